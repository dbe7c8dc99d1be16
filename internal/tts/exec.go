package tts

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// ExecSynth drives a local text-to-speech program such as espeak-ng or
// piper. The text is written to stdin and the program must print a 16-bit
// WAV file on stdout. Arguments may reference {voice} and {style}.
type ExecSynth struct {
	args []string
}

// NewExecSynth parses command with shell quoting rules.
func NewExecSynth(command string) (*ExecSynth, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &ExecSynth{args: args}, nil
}

func (e *ExecSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		args := e.expand(req)
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		cmd.Stdin = strings.NewReader(req.Text)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		out, err := cmd.Output()
		if err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				err = fmt.Errorf("%w: %s", err, msg)
			}
			errs <- fmt.Errorf("tts exec command failed: %w", err)
			return
		}

		pcm, sampleRate, channels, err := decodeWAV(out)
		if err != nil {
			errs <- err
			return
		}
		if err := streamPCM(ctx, chunks, pcm, sampleRate, channels); err != nil {
			errs <- err
		}
	}()
	return chunks, errs
}

func (e *ExecSynth) expand(req SynthRequest) []string {
	replacer := strings.NewReplacer("{voice}", req.Voice, "{style}", NormalizeStyle(req.Style))
	args := make([]string, len(e.args))
	for i, arg := range e.args {
		args[i] = replacer.Replace(arg)
	}
	return args
}
