package command

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	ErrEmptyCommand      = errors.New("empty command")
	ErrUnterminatedQuote = errors.New("unterminated quote")
)

// QuotePolicy controls whether enclosing quote characters survive tokenization.
type QuotePolicy int

const (
	StripQuotes QuotePolicy = iota
	RetainQuotes
)

func (p QuotePolicy) String() string {
	switch p {
	case RetainQuotes:
		return "retain"
	default:
		return "strip"
	}
}

// ParsePolicy maps a config value ("strip", "retain") to a QuotePolicy.
// An empty string selects StripQuotes.
func ParsePolicy(s string) (QuotePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strip":
		return StripQuotes, nil
	case "retain", "keep":
		return RetainQuotes, nil
	}
	return StripQuotes, fmt.Errorf("unknown quote policy %q", s)
}

// DefaultQuotes is the quote character set used when Parser.Quotes is empty.
const DefaultQuotes = `"`

// Parser splits a raw command line into a program and its arguments.
// The zero value strips double quotes.
type Parser struct {
	Policy QuotePolicy
	Quotes string // characters that open and close a quoted span
}

var defaultParser = Parser{}

// Parse splits raw using the default parser.
func Parse(raw string) (string, []string, error) {
	return defaultParser.Parse(raw)
}

// Parse returns the program token (text up to the first whitespace) and the
// remaining text tokenized on unquoted whitespace.
func (p Parser) Parse(raw string) (string, []string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil, ErrEmptyCommand
	}
	program, rest := trimmed, ""
	if i := strings.IndexFunc(trimmed, unicode.IsSpace); i >= 0 {
		program, rest = trimmed[:i], trimmed[i:]
	}
	if rest == "" {
		return program, nil, nil
	}
	args, err := p.Split(rest)
	if err != nil {
		return "", nil, fmt.Errorf("parse %q: %w", raw, err)
	}
	return program, args, nil
}

// Split tokenizes s on whitespace outside quoted spans. A quoted span is
// closed only by the character that opened it and joins the surrounding
// token, so a"b c"d is a single token.
func (p Parser) Split(s string) ([]string, error) {
	quotes := p.Quotes
	if quotes == "" {
		quotes = DefaultQuotes
	}
	var (
		tokens  []string
		cur     strings.Builder
		inToken bool
		open    rune
	)
	for _, r := range s {
		switch {
		case open != 0:
			if r == open {
				open = 0
				if p.Policy == RetainQuotes {
					cur.WriteRune(r)
				}
				continue
			}
			cur.WriteRune(r)
		case strings.ContainsRune(quotes, r):
			open = r
			inToken = true
			if p.Policy == RetainQuotes {
				cur.WriteRune(r)
			}
		case unicode.IsSpace(r):
			if inToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			inToken = true
			cur.WriteRune(r)
		}
	}
	if open != 0 {
		return nil, ErrUnterminatedQuote
	}
	if inToken {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}
