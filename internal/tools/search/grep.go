// Package search implements a regex search tool over the project tree.
package search

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/prismlabs/prism/internal/tools"
	"github.com/prismlabs/prism/internal/tools/files"
)

const (
	maxMatches     = 200
	maxLineLength  = 500
	maxFileSize    = 2 << 20 // skip files larger than 2MB
	maxScanBufSize = 1 << 20
)

// skipDirs are directory names never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".idea":        true,
	"vendor":       true,
	"dist":         true,
}

// GrepTool searches file contents under the project root with a regex.
type GrepTool struct {
	resolver files.Resolver
}

type grepParams struct {
	Pattern string `json:"pattern" jsonschema:"required,description=Regular expression to search for (RE2 syntax)"`
	Path    string `json:"path,omitempty" jsonschema:"description=Subdirectory to search relative to the project root"`
	Glob    string `json:"glob,omitempty" jsonschema:"description=Filename glob filter such as *.go"`
}

// NewGrepTool creates a search tool scoped to the project root.
func NewGrepTool(root string) *GrepTool {
	return &GrepTool{resolver: files.Resolver{Root: root}}
}

// Name returns the tool name.
func (t *GrepTool) Name() string {
	return "search"
}

// Description returns the tool description.
func (t *GrepTool) Description() string {
	return "Search project files with a regular expression. Returns path:line: matches."
}

// Schema returns the JSON schema for the tool parameters.
func (t *GrepTool) Schema() json.RawMessage {
	return tools.ReflectSchema(&grepParams{})
}

// Execute runs the search.
func (t *GrepTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input grepParams
	if err := json.Unmarshal(params, &input); err != nil {
		return tools.Errorf("invalid parameters: %v", err), nil
	}
	if strings.TrimSpace(input.Pattern) == "" {
		return tools.Errorf("pattern is required"), nil
	}

	re, err := regexp.Compile(input.Pattern)
	if err != nil {
		return tools.Errorf("invalid pattern: %v", err), nil
	}

	searchPath := input.Path
	if searchPath == "" {
		searchPath = "."
	}
	rootAbs, err := t.resolver.Resolve(searchPath)
	if err != nil {
		return tools.Errorf("%v", err), nil
	}

	var (
		matches []string
		scanned int
	)
	walkErr := filepath.WalkDir(rootAbs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if input.Glob != "" {
			if ok, _ := filepath.Match(input.Glob, d.Name()); !ok {
				return nil
			}
		}
		if info, err := d.Info(); err != nil || info.Size() > maxFileSize {
			return nil
		}

		rel, err := filepath.Rel(rootAbs, path)
		if err != nil {
			rel = path
		}
		found, err := grepFile(path, rel, re, &matches)
		if err != nil {
			return nil
		}
		if found {
			scanned++
		}
		if len(matches) >= maxMatches {
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil && walkErr != fs.SkipAll {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return tools.Errorf("search failed: %v", walkErr), nil
	}

	if len(matches) == 0 {
		return tools.Textf("no matches for %q", input.Pattern), nil
	}

	out := strings.Join(matches, "\n")
	if len(matches) >= maxMatches {
		out += fmt.Sprintf("\n[stopped at %d matches]", maxMatches)
	}
	return &tools.Result{
		Content:  out,
		Metadata: map[string]any{"matches": len(matches)},
	}, nil
}

func grepFile(path, rel string, re *regexp.Regexp, matches *[]string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()

	// Cheap binary sniff on the first block.
	head := make([]byte, 512)
	n, _ := file.Read(head)
	if bytes.IndexByte(head[:n], 0) >= 0 {
		return false, nil
	}
	if _, err := file.Seek(0, 0); err != nil {
		return false, err
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxScanBufSize)
	line := 0
	found := false
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if !re.MatchString(text) {
			continue
		}
		found = true
		if len(text) > maxLineLength {
			text = text[:maxLineLength] + "..."
		}
		*matches = append(*matches, fmt.Sprintf("%s:%d: %s", rel, line, text))
		if len(*matches) >= maxMatches {
			return found, nil
		}
	}
	return found, scanner.Err()
}
