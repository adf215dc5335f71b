package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/prismlabs/prism/internal/tools"
)

// maxListEntries caps directory listings to keep results model-sized.
const maxListEntries = 500

// ListTool lists directory entries inside the project tree.
type ListTool struct {
	resolver Resolver
}

type listParams struct {
	Path string `json:"path,omitempty" jsonschema:"description=Directory to list relative to the project root (default: the root)"`
}

// NewListTool creates a list tool scoped to the project root.
func NewListTool(cfg Config) *ListTool {
	return &ListTool{resolver: Resolver{Root: cfg.Root}}
}

// Name returns the tool name.
func (t *ListTool) Name() string {
	return "list_files"
}

// Description returns the tool description.
func (t *ListTool) Description() string {
	return "List directory entries inside the project. Directories are suffixed with a slash."
}

// Schema returns the JSON schema for the tool parameters.
func (t *ListTool) Schema() json.RawMessage {
	return tools.ReflectSchema(&listParams{})
}

// Execute lists the directory.
func (t *ListTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input listParams
	if err := json.Unmarshal(params, &input); err != nil {
		return tools.Errorf("invalid parameters: %v", err), nil
	}
	path := input.Path
	if strings.TrimSpace(path) == "" {
		path = "."
	}

	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return tools.Errorf("%v", err), nil
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return tools.Errorf("read directory: %v", err), nil
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += string(filepath.Separator)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	truncated := false
	if len(names) > maxListEntries {
		names = names[:maxListEntries]
		truncated = true
	}

	out := strings.Join(names, "\n")
	if truncated {
		out += fmt.Sprintf("\n[truncated at %d entries]", maxListEntries)
	}
	return &tools.Result{
		Content:  out,
		Metadata: map[string]any{"entries": len(names), "truncated": truncated},
	}, nil
}
