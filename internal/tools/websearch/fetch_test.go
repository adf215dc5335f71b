package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetchTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("hello from the server"))
	}))
	defer srv.Close()

	tool := NewFetchTool()
	params, _ := json.Marshal(map[string]string{"url": srv.URL})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.Content)
	}
	if result.Content != "hello from the server" {
		t.Errorf("content = %q", result.Content)
	}
	if result.Metadata["status"] != 200 {
		t.Errorf("status = %v", result.Metadata["status"])
	}
}

func TestFetchToolErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	tool := NewFetchTool()
	params, _ := json.Marshal(map[string]string{"url": srv.URL + "/missing"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for 404")
	}
	if !strings.Contains(result.Content, "HTTP 404") {
		t.Errorf("content = %q", result.Content)
	}
}

func TestFetchToolRejectsScheme(t *testing.T) {
	tool := NewFetchTool()
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"url":"file:///etc/passwd"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for file scheme")
	}
}

func TestFetchToolTruncatesLargeBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := strings.Repeat("x", maxBodyBytes+1000)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	tool := NewFetchTool()
	params, _ := json.Marshal(map[string]string{"url": srv.URL})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(result.Content, "truncated") {
		t.Error("expected truncation marker")
	}
	if result.Metadata["truncated"] != true {
		t.Errorf("truncated = %v", result.Metadata["truncated"])
	}
}
