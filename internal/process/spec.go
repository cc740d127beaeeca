package process

import (
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/procpool/internal/command"
)

// Spec describes one program invocation.
type Spec struct {
	Name    string   `json:"name" mapstructure:"name"` // defaults to Program
	Program string   `json:"program" mapstructure:"program"`
	Args    []string `json:"args" mapstructure:"args"`
	WorkDir string   `json:"work_dir" mapstructure:"work_dir"`
	Env     []string `json:"env" mapstructure:"env"` // full environment; nil inherits the caller's

	// OutputGrace bounds how long stdout may stay open after the program
	// exits, e.g. held by a backgrounded child. Zero means DefaultOutputGrace.
	OutputGrace time.Duration `json:"output_grace" mapstructure:"output_grace"`
}

// DefaultOutputGrace is used when Spec.OutputGrace is zero.
const DefaultOutputGrace = 2 * time.Second

// SpecFromCommand parses raw with p and returns a Spec named after the program.
func SpecFromCommand(p command.Parser, raw string) (Spec, error) {
	program, args, err := p.Parse(raw)
	if err != nil {
		return Spec{}, err
	}
	return Spec{Name: program, Program: program, Args: args}, nil
}

// Validate reports whether the spec can be spawned.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Program) == "" {
		return errors.New("process requires program")
	}
	return nil
}

// normalized returns a copy that shares no backing arrays with s.
func (s Spec) normalized() Spec {
	out := s
	out.Program = strings.TrimSpace(s.Program)
	if out.Name == "" {
		out.Name = out.Program
	}
	out.Args = cloneStrings(s.Args)
	out.Env = cloneStrings(s.Env)
	if out.OutputGrace <= 0 {
		out.OutputGrace = DefaultOutputGrace
	}
	return out
}

func (s Spec) buildCommand() *exec.Cmd {
	// #nosec G204 -- running caller-supplied programs is the point
	cmd := exec.Command(s.Program, s.Args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if len(s.Env) > 0 {
		cmd.Env = s.Env
	}
	return cmd
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
