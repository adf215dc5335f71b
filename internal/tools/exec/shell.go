// Package exec implements the shell command tool.
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/prismlabs/prism/internal/tools"
	"github.com/prismlabs/prism/internal/tools/files"
)

// maxOutputBytes caps combined stdout+stderr returned to the model.
const maxOutputBytes = 100000

// ShellTool runs shell commands in the project root.
type ShellTool struct {
	resolver files.Resolver
	root     string
}

type shellParams struct {
	Command string `json:"command" jsonschema:"required,description=Shell command to execute"`
	Cwd     string `json:"cwd,omitempty" jsonschema:"description=Working directory relative to the project root"`
	Stdin   string `json:"stdin,omitempty" jsonschema:"description=Stdin content to pass to the command"`
}

// NewShellTool creates a shell tool rooted at the project directory.
func NewShellTool(root string) *ShellTool {
	return &ShellTool{resolver: files.Resolver{Root: root}, root: root}
}

// Name returns the tool name.
func (t *ShellTool) Name() string {
	return "shell"
}

// Description returns the tool description.
func (t *ShellTool) Description() string {
	return "Run a shell command in the project directory and return its combined output."
}

// Schema returns the JSON schema for the tool parameters.
func (t *ShellTool) Schema() json.RawMessage {
	return tools.ReflectSchema(&shellParams{})
}

// Modifies marks the tool as mutating.
func (t *ShellTool) Modifies() bool { return true }

// RequiresApproval marks the tool as confirmation-worthy.
func (t *ShellTool) RequiresApproval() bool { return true }

// Execute runs the command. The caller's context carries the effective
// timeout; the process is killed when it fires.
func (t *ShellTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input shellParams
	if err := json.Unmarshal(params, &input); err != nil {
		return tools.Errorf("invalid parameters: %v", err), nil
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return tools.Errorf("command is required"), nil
	}

	dir := t.root
	if input.Cwd != "" {
		resolved, err := t.resolver.Resolve(input.Cwd)
		if err != nil {
			return tools.Errorf("%v", err), nil
		}
		dir = resolved
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	if input.Stdin != "" {
		cmd.Stdin = strings.NewReader(input.Stdin)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()

	output := out.String()
	if len(output) > maxOutputBytes {
		output = output[:maxOutputBytes] + fmt.Sprintf("\n[truncated at %d bytes]", maxOutputBytes)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		if output == "" {
			output = err.Error()
		} else {
			output += "\n" + err.Error()
		}
		return &tools.Result{Content: output, IsError: true}, nil
	}
	if output == "" {
		output = "(no output)"
	}
	return &tools.Result{
		Content:  output,
		Metadata: map[string]any{"exit_code": cmd.ProcessState.ExitCode()},
	}, nil
}
