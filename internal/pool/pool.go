package pool

import (
	"errors"
	"log/slog"

	"github.com/loykin/procpool/internal/process"
)

// DefaultCapacity is the sizing hint used when New is given a non-positive capacity.
const DefaultCapacity = 10

// ErrPoolFull is returned by Add in strict mode once capacity is reached.
var ErrPoolFull = errors.New("pool is full")

// Pool is an ordered collection of processes for one run. It is not safe
// for concurrent use; the poll loop owns it.
type Pool struct {
	entities []*process.Process
	capacity int
	strict   bool
	warned   bool
	log      *slog.Logger
}

type Option func(*Pool)

// WithStrictCapacity makes Add reject entities beyond capacity.
func WithStrictCapacity() Option { return func(p *Pool) { p.strict = true } }

func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.log = l
		}
	}
}

// New returns an empty pool. capacity is a sizing hint unless
// WithStrictCapacity is given.
func New(capacity int, opts ...Option) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	p := &Pool{capacity: capacity, log: slog.Default()}
	for _, o := range opts {
		o(p)
	}
	p.entities = make([]*process.Process, 0, capacity)
	return p
}

// Add appends an already spawned process.
func (p *Pool) Add(e *process.Process) error {
	if e == nil {
		return errors.New("nil process")
	}
	if len(p.entities) >= p.capacity {
		if p.strict {
			return ErrPoolFull
		}
		if !p.warned {
			p.warned = true
			p.log.Warn("pool capacity exceeded", "capacity", p.capacity, "name", e.Name())
		}
	}
	p.entities = append(p.entities, e)
	return nil
}

// SweepFinished drops every finished process, keeping the relative order of
// the rest, and returns the removed ones in pool order.
func (p *Pool) SweepFinished() []*process.Process {
	var removed []*process.Process
	kept := p.entities[:0]
	for _, e := range p.entities {
		if e.Finished() {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	// release references held past the new length
	for i := len(kept); i < len(p.entities); i++ {
		p.entities[i] = nil
	}
	p.entities = kept
	if len(p.entities) < p.capacity {
		p.warned = false
	}
	return removed
}

func (p *Pool) IsEmpty() bool { return len(p.entities) == 0 }
func (p *Pool) Len() int      { return len(p.entities) }
func (p *Pool) Cap() int      { return p.capacity }
func (p *Pool) Strict() bool  { return p.strict }

// Entities returns a copy of the tracked processes in insertion order.
func (p *Pool) Entities() []*process.Process {
	out := make([]*process.Process, len(p.entities))
	copy(out, p.entities)
	return out
}
