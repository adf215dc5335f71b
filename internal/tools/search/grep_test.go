package search

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("main.go", "package main\n\nfunc main() {}\n")
	write("internal/util.go", "package internal\n\nfunc Helper() error { return nil }\n")
	write(".git/config", "func main() {} // should never match\n")
	write("binary.bin", "func\x00main")
	return root
}

func TestGrepToolFindsMatches(t *testing.T) {
	tool := NewGrepTool(setupTree(t))

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"pattern":"func \\w+\\("}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.Content)
	}
	if !strings.Contains(result.Content, "main.go:3") {
		t.Errorf("missing main.go match: %q", result.Content)
	}
	if !strings.Contains(result.Content, filepath.Join("internal", "util.go")+":3") {
		t.Errorf("missing util.go match: %q", result.Content)
	}
	if strings.Contains(result.Content, ".git") {
		t.Errorf(".git should be skipped: %q", result.Content)
	}
	if strings.Contains(result.Content, "binary.bin") {
		t.Errorf("binary files should be skipped: %q", result.Content)
	}
}

func TestGrepToolGlobFilter(t *testing.T) {
	tool := NewGrepTool(setupTree(t))

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"pattern":"package","glob":"util.go"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.Contains(result.Content, "main.go") {
		t.Errorf("glob should exclude main.go: %q", result.Content)
	}
	if !strings.Contains(result.Content, "util.go") {
		t.Errorf("glob should include util.go: %q", result.Content)
	}
}

func TestGrepToolBadPattern(t *testing.T) {
	tool := NewGrepTool(t.TempDir())
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"pattern":"["}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for invalid regex")
	}
}

func TestGrepToolNoMatches(t *testing.T) {
	tool := NewGrepTool(setupTree(t))
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"pattern":"definitely_not_present"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.Content)
	}
	if !strings.Contains(result.Content, "no matches") {
		t.Errorf("content = %q", result.Content)
	}
}
