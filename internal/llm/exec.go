package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

// ExecGenerator hands the conversation to a local program. The request is
// written to stdin as JSON and every line the program prints is streamed
// back as a partial chunk.
type ExecGenerator struct {
	args []string
}

type execRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

func NewExecGenerator(command string) (*ExecGenerator, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse llm command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("llm command empty")
	}
	return &ExecGenerator{args: args}, nil
}

func (g *ExecGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	input, err := json.Marshal(execRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, g.args[0], g.args[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start llm command: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if !first {
			line = "\n" + line
		}
		first = false
		if err := consumer(Chunk{Channel: req.Channel, Content: line, Partial: true, TraceID: req.TraceID}); err != nil {
			cmd.Process.Kill()
			cmd.Wait()
			return err
		}
	}
	if err := cmd.Wait(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return fmt.Errorf("llm exec command failed: %w", err)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read llm output: %w", err)
	}
	return consumer(Chunk{Channel: req.Channel, Latency: time.Since(start), TraceID: req.TraceID})
}
