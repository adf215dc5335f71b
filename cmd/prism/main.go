// Package main provides the CLI entry point for the Prism code-review agent.
//
// Prism runs an interactive agent loop over a local project tree: the model
// reads files, greps the source, runs shell commands, and fetches web pages
// to answer review questions, streaming its progress to the client over SSE.
//
// # Basic Usage
//
// Start the server:
//
//	prism serve
//
// Start on a different port with debug logging:
//
//	prism serve --port 9000 --debug
//
// # Environment Variables
//
//   - PRISM_API_KEY / ANTHROPIC_API_KEY: provider API key
//   - PRISM_PROVIDER: "anthropic" (default) or "openai"
//   - PRISM_MODEL: model id override
//   - PRISM_BASE_URL: provider endpoint override
//   - PRISM_SYSTEM_PROMPT_FILE: system prompt file override
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "prism",
		Short:         "Prism interactive code-review agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildServeCmd(), buildVersionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
