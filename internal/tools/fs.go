// Package tools provides the built-in runtime.Tool implementations wired
// into cmd/archiflow's registry.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/archiflow-dev/archiflow/internal/runtime"
)

// ReadFileTool reads a file's contents relative to the execution context's
// working directory.
type ReadFileTool struct{}

func (ReadFileTool) Name() string        { return "read_file" }
func (ReadFileTool) Description() string { return "Read the contents of a file in the workspace." }

func (ReadFileTool) Parameters() any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "File path, relative to the session's working directory.",
			},
		},
		"required": []string{"path"},
	}
}

func (ReadFileTool) Execute(ctx context.Context, execCtx runtime.ExecutionContext, arguments json.RawMessage) (runtime.Output, error) {
	var input struct {
		Path string `json:"path"`
	}
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &input); err != nil {
			return runtime.Output{}, fmt.Errorf("read_file: invalid arguments: %w", err)
		}
	}
	path := strings.TrimSpace(input.Path)
	if path == "" {
		return runtime.Output{}, fmt.Errorf("read_file: path is required")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(execCtx.WorkingDirectory, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return runtime.Output{}, fmt.Errorf("read_file: %w", err)
	}
	return runtime.Output{Content: string(data)}, nil
}

// ExecTool runs a shell command in the execution context's working directory.
type ExecTool struct{}

func (ExecTool) Name() string { return "exec" }
func (ExecTool) Description() string {
	return "Run a shell command in the workspace and capture its combined output."
}

func (ExecTool) Parameters() any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Shell command to execute.",
			},
			"timeout_seconds": map[string]any{
				"type":        "integer",
				"description": "Timeout in seconds (0 uses the runtime's default).",
				"minimum":     0,
			},
		},
		"required": []string{"command"},
	}
}

func (ExecTool) Execute(ctx context.Context, execCtx runtime.ExecutionContext, arguments json.RawMessage) (runtime.Output, error) {
	var input struct {
		Command        string `json:"command"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &input); err != nil {
			return runtime.Output{}, fmt.Errorf("exec: invalid arguments: %w", err)
		}
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return runtime.Output{}, fmt.Errorf("exec: command is required")
	}

	runCtx := ctx
	if input.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(input.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	if execCtx.WorkingDirectory != "" {
		cmd.Dir = execCtx.WorkingDirectory
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return runtime.Output{Content: string(out)}, fmt.Errorf("exec: %w", err)
	}
	return runtime.Output{Content: string(out)}, nil
}
