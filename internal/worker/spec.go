package worker

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/corescout/scoutd/internal/logger"
)

// DefaultName is used for capture file naming when Spec.Name is empty.
const DefaultName = "worker"

// Spec describes how to launch the worker executable. The per-restart
// parameters (port, data source) are not part of the Spec; they arrive as a
// Launch so every start gets fresh values.
type Spec struct {
	Name    string        `json:"name" mapstructure:"name"`
	Command string        `json:"command" mapstructure:"command"`
	WorkDir string        `json:"work_dir" mapstructure:"work_dir"`
	Env     []string      `json:"env" mapstructure:"env"`
	Log     logger.Config `json:"log" mapstructure:"log"`
}

func (s *Spec) name() string {
	if s.Name != "" {
		return s.Name
	}
	return DefaultName
}

// Launch carries the parameters for one concrete start. They are passed as
// explicit command-line flags, with environment mirrors, so the worker and
// supervisor cannot disagree about them.
type Launch struct {
	Port           int
	DataSourcePath string // empty launches the worker without a data source
}

// Args returns the launch flags appended to the worker command line.
func (l Launch) Args() []string {
	args := []string{"--port", strconv.Itoa(l.Port)}
	if l.DataSourcePath != "" {
		args = append(args, "--db", l.DataSourcePath)
	}
	return args
}

// Environ returns the environment mirrors of the launch flags.
func (l Launch) Environ() []string {
	env := []string{"SCOUT_PORT=" + strconv.Itoa(l.Port)}
	if l.DataSourcePath != "" {
		env = append(env, "SCOUT_DB_PATH="+l.DataSourcePath)
	}
	return env
}

// BuildCommand assembles the *exec.Cmd for one launch. The command string is
// split into argv with quote awareness and exec'd directly; no shell is
// involved, so the appended launch flags always reach the worker verbatim.
func (s *Spec) BuildCommand(l Launch) (*exec.Cmd, error) {
	argv, err := splitCommand(s.Command)
	if err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return nil, errors.New("empty worker command")
	}
	args := append(argv[1:], l.Args()...)
	// #nosec G204
	cmd := exec.Command(argv[0], args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	env := os.Environ()
	env = append(env, s.Env...)
	env = append(env, l.Environ()...)
	cmd.Env = env
	configureSysProcAttr(cmd)
	return cmd, nil
}

// splitCommand splits a command line into argv, honoring single and double
// quotes so executable paths with spaces survive.
func splitCommand(s string) ([]string, error) {
	var argv []string
	var cur strings.Builder
	var quote byte
	inToken := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteByte(c)
			}
		case c == '\'' || c == '"':
			quote = c
			inToken = true
		case c == ' ' || c == '\t':
			if inToken {
				argv = append(argv, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteByte(c)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unbalanced quote in worker command %q", s)
	}
	if inToken {
		argv = append(argv, cur.String())
	}
	return argv, nil
}
