// Package cli adapts a local LLM CLI binary to the agent contract. The
// binary receives the prompt on stdin and replies with a single JSON
// document on stdout.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/relayworks/relay/pkg/agent"
)

var (
	// ErrBinaryNotFound indicates the configured binary is not installed.
	ErrBinaryNotFound = errors.New("agent binary not found")

	// ErrCallFailed indicates the binary exited with an error.
	ErrCallFailed = errors.New("agent call failed")
)

const defaultTimeout = 5 * time.Minute

// Config configures the CLI-backed agent.
type Config struct {
	BinaryPath string        // default "llm"
	Timeout    time.Duration // per-call ceiling, default 5m
}

// Agent shells out to the configured binary for each call.
type Agent struct {
	binaryPath string
	timeout    time.Duration
}

func New(cfg Config) (*Agent, error) {
	binaryPath := cfg.BinaryPath
	if binaryPath == "" {
		binaryPath = "llm"
	}

	if _, err := exec.LookPath(binaryPath); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBinaryNotFound, binaryPath)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &Agent{
		binaryPath: binaryPath,
		timeout:    timeout,
	}, nil
}

// reply is the JSON document the binary writes on stdout.
type reply struct {
	Content      string         `json:"content"`
	Structured   map[string]any `json:"structured,omitempty"`
	TokensUsed   int            `json:"tokens_used"`
	FinishReason string         `json:"finish_reason"`
}

func (a *Agent) Call(ctx context.Context, req agent.Request) (*agent.Response, error) {
	if strings.TrimSpace(req.UserPrompt) == "" {
		return nil, agent.ErrEmptyPrompt
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	args := []string{
		"--output-format", "json",
		"--max-tokens", strconv.Itoa(req.MaxTokens),
		"--temperature", strconv.FormatFloat(req.Temperature, 'f', -1, 64),
	}

	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}

	if req.SystemPrompt != "" {
		args = append(args, "--system", req.SystemPrompt)
	}

	if req.OutputSchema != nil {
		schema, err := json.Marshal(req.OutputSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to encode output schema: %w", err)
		}

		args = append(args, "--schema", string(schema))
	}

	cmd := exec.CommandContext(ctx, a.binaryPath, args...)
	cmd.Stdin = strings.NewReader(req.UserPrompt)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCallFailed, ctx.Err())
		}

		return nil, fmt.Errorf("%w: %v: %s", ErrCallFailed, err, strings.TrimSpace(stderr.String()))
	}

	var r reply

	err = json.Unmarshal(stdout.Bytes(), &r)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid response: %v", ErrCallFailed, err)
	}

	return &agent.Response{
		Content:      r.Content,
		Structured:   r.Structured,
		TokensUsed:   r.TokensUsed,
		FinishReason: r.FinishReason,
	}, nil
}
