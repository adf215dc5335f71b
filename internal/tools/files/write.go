package files

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/prismlabs/prism/internal/tools"
)

// WriteTool writes a file inside the project tree.
type WriteTool struct {
	resolver Resolver
}

type writeParams struct {
	Path    string `json:"path" jsonschema:"required,description=Path to the file relative to the project root"`
	Content string `json:"content" jsonschema:"required,description=Full new contents of the file"`
}

// NewWriteTool creates a write tool scoped to the project root.
func NewWriteTool(cfg Config) *WriteTool {
	return &WriteTool{resolver: Resolver{Root: cfg.Root}}
}

// Name returns the tool name.
func (t *WriteTool) Name() string {
	return "write_file"
}

// Description returns the tool description.
func (t *WriteTool) Description() string {
	return "Write a file inside the project, creating parent directories as needed. Replaces the whole file."
}

// Schema returns the JSON schema for the tool parameters.
func (t *WriteTool) Schema() json.RawMessage {
	return tools.ReflectSchema(&writeParams{})
}

// Modifies marks the tool as mutating.
func (t *WriteTool) Modifies() bool { return true }

// RequiresApproval marks the tool as confirmation-worthy.
func (t *WriteTool) RequiresApproval() bool { return true }

// Execute writes the file.
func (t *WriteTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input writeParams
	if err := json.Unmarshal(params, &input); err != nil {
		return tools.Errorf("invalid parameters: %v", err), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return tools.Errorf("path is required"), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return tools.Errorf("%v", err), nil
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return tools.Errorf("create directories: %v", err), nil
	}
	if err := os.WriteFile(resolved, []byte(input.Content), 0o644); err != nil {
		return tools.Errorf("write file: %v", err), nil
	}
	return tools.Textf("wrote %d bytes to %s", len(input.Content), input.Path), nil
}
