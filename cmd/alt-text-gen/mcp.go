package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Sriram-PR/alt-text-gen/pkg/mcp"
	"github.com/Sriram-PR/alt-text-gen/pkg/queue"
)

// runMcpServer handles the mcp-server subcommand
func runMcpServer(args []string) {
	fs := flag.NewFlagSet("mcp-server", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	transport := fs.String("transport", "stdio", "Transport type (stdio, sse)")
	port := fs.Int("port", 8081, "HTTP port (for sse transport)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: alt-text-gen mcp-server [options]

Start an MCP (Model Context Protocol) server for AI tool integration.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Start with stdio transport
  alt-text-gen mcp-server -config config.yaml

  # Start with SSE transport on port 8081
  alt-text-gen mcp-server -config config.yaml -transport sse -port 8081

Available MCP Tools:
  generate_alt_text  Generate, review and save alt text for one asset
  start_queue        Start the background queue
  cancel_queue       Cancel the active queue run
  run_queue_tick     Process the next batch now
  queue_status       Show queue progress
  usage_summary      Show cumulative token usage
  media_stats        Show alt text coverage
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doMcpServer(*configFile, *transport, *port, *logLevel, os.Stdout, os.Stderr))
}

// doMcpServer is the testable implementation of the MCP server.
// The MCP protocol owns stdout, so logs always go to stderr.
func doMcpServer(configPath, transport string, port int, logLevel string, stdout, stderr io.Writer) int {
	return withApp(configPath, logLevel, stdout, stderr, func(ctx context.Context, a *app) error {
		server, err := mcp.NewServer(&mcp.ServerConfig{
			Generator: a.pipeline,
			Queue:     a.queue,
			Usage:     a.ledger,
			Stats:     a.store,
			Transport: transport,
			Port:      port,
			Logger:    a.log,
		})
		if err != nil {
			return fmt.Errorf("create MCP server: %w", err)
		}
		// Queue runs started through the tools keep advancing while the server is up
		go func() { _ = queue.NewRunner(a.queue).Run(ctx) }()
		go func() { _ = queue.NewWatchdog(a.queue).Run(ctx) }()

		a.log.Infof("Starting MCP server (transport: %s)", transport)
		return server.Run()
	})
}
