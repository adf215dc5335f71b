package files

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prismlabs/prism/internal/tools"
)

// Config controls filesystem tool defaults.
type Config struct {
	Root         string
	MaxReadBytes int
}

// ReadTool reads a file from the project tree with safety limits.
type ReadTool struct {
	resolver   Resolver
	maxReadLen int
}

type readParams struct {
	Path     string `json:"path" jsonschema:"required,description=Path to the file relative to the project root"`
	Offset   int64  `json:"offset,omitempty" jsonschema:"description=Byte offset to start reading from,minimum=0"`
	MaxBytes int    `json:"max_bytes,omitempty" jsonschema:"description=Maximum bytes to read (capped by tool default),minimum=0"`
}

// NewReadTool creates a read tool scoped to the project root.
func NewReadTool(cfg Config) *ReadTool {
	limit := cfg.MaxReadBytes
	if limit <= 0 {
		limit = 200000
	}
	return &ReadTool{
		resolver:   Resolver{Root: cfg.Root},
		maxReadLen: limit,
	}
}

// Name returns the tool name.
func (t *ReadTool) Name() string {
	return "read_file"
}

// Description returns the tool description.
func (t *ReadTool) Description() string {
	return "Read a file from the project with optional offset and byte limit."
}

// Schema returns the JSON schema for the tool parameters.
func (t *ReadTool) Schema() json.RawMessage {
	return tools.ReflectSchema(&readParams{})
}

// Execute reads the file.
func (t *ReadTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input readParams
	if err := json.Unmarshal(params, &input); err != nil {
		return tools.Errorf("invalid parameters: %v", err), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return tools.Errorf("path is required"), nil
	}
	if input.Offset < 0 {
		return tools.Errorf("offset must be >= 0"), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return tools.Errorf("%v", err), nil
	}

	file, err := os.Open(resolved)
	if err != nil {
		return tools.Errorf("open file: %v", err), nil
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return tools.Errorf("stat file: %v", err), nil
	}
	if info.IsDir() {
		return tools.Errorf("%s is a directory", input.Path), nil
	}

	if input.Offset > 0 {
		if _, err := file.Seek(input.Offset, io.SeekStart); err != nil {
			return tools.Errorf("seek: %v", err), nil
		}
	}

	limit := t.maxReadLen
	if input.MaxBytes > 0 && input.MaxBytes < limit {
		limit = input.MaxBytes
	}

	data, err := io.ReadAll(io.LimitReader(file, int64(limit)+1))
	if err != nil {
		return tools.Errorf("read file: %v", err), nil
	}

	truncated := false
	if len(data) > limit {
		data = data[:limit]
		truncated = true
	}

	content := string(data)
	if truncated {
		content += fmt.Sprintf("\n[truncated at %d bytes, file is %d bytes]", limit, info.Size())
	}
	return &tools.Result{
		Content: content,
		Metadata: map[string]any{
			"bytes":     len(data),
			"size":      info.Size(),
			"truncated": truncated,
		},
	}, nil
}
