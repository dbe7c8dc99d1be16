package speaker

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-voicechat/internal/playback"
)

// filePlaceholder is replaced with the resource path in player commands.
const filePlaceholder = "{file}"

// ExecSink plays each resource by running an external player such as
// ffplay or aplay. The player exiting ends the playback.
type ExecSink struct {
	name string
	args []string

	mu      sync.Mutex
	cmd     *exec.Cmd
	stopped bool
}

func NewExecSink(name, command string) (*ExecSink, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse player command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("player command empty")
	}
	return &ExecSink{name: name, args: args}, nil
}

func (s *ExecSink) Name() string { return s.name }

func (s *ExecSink) Play(res playback.Resource, onComplete func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return ErrBusy
	}

	args := s.commandFor(res.Path)
	cmd := exec.Command(args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start player: %w", err)
	}
	s.cmd = cmd
	s.stopped = false

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		stopped := s.stopped
		s.cmd = nil
		s.mu.Unlock()
		switch {
		case stopped:
			err = ErrStopped
		case err != nil:
			err = fmt.Errorf("player exited: %w", err)
		}
		onComplete(err)
	}()
	return nil
}

func (s *ExecSink) Stop() error {
	s.mu.Lock()
	if s.cmd == nil || s.cmd.Process == nil {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	proc := s.cmd.Process
	s.mu.Unlock()
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill player: %w", err)
	}
	return nil
}

func (s *ExecSink) commandFor(path string) []string {
	args := make([]string, 0, len(s.args)+1)
	replaced := false
	for _, arg := range s.args {
		if strings.Contains(arg, filePlaceholder) {
			arg = strings.ReplaceAll(arg, filePlaceholder, path)
			replaced = true
		}
		args = append(args, arg)
	}
	if !replaced {
		args = append(args, path)
	}
	return args
}
