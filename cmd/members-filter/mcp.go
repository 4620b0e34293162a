package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Sriram-PR/members-filter/pkg/mcp"
)

// runMcpServer handles the mcp-server subcommand
func runMcpServer(args []string) {
	fs := flag.NewFlagSet("mcp-server", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file (built-in defaults when empty)")
	transport := fs.String("transport", "stdio", "Transport type (stdio, sse)")
	port := fs.Int("port", 8080, "HTTP port (for sse transport)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: members-filter mcp-server [options]

Start an MCP (Model Context Protocol) server for AI tool integration.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Start with stdio transport (for Claude Desktop)
  members-filter mcp-server -config config.yaml

  # Start with SSE transport on port 8080
  members-filter mcp-server -config config.yaml -transport sse -port 8080

Available MCP Tools:
  get_stats           Block counters and open page sessions
  list_whitelist      List whitelisted channels
  add_channel         Whitelist a channel handle
  remove_channel      Remove a whitelist entry
  set_enabled         Turn filtering on or off
  clear_cache         Forget cached blocked titles
  list_cached_titles  List or search cached blocked titles
  filter_page         Filter one rendered page
  open_page           Open a live page session
  append_items        Append markup to a page session
  navigate_page       Move a page session to a new address
  get_page            Inspect a page session
  close_page          Close a page session
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doMcpServer(*configFile, *transport, *port, *logLevel, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doMcpServer is the testable implementation of the MCP server
func doMcpServer(configPath, transport string, port int, logLevel string, stdout, stderr io.Writer) int {
	if transport != "stdio" && transport != "sse" {
		fmt.Fprintf(stderr, "Error: unknown transport: %s (supported: stdio, sse)\n", transport)
		return 1
	}

	// MCP protocol uses stdout, logs go to stderr
	a, code := openFromFlags(configPath, logLevel, stderr)
	if a == nil {
		return code
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.startGC(ctx)

	serverCfg := &mcp.ServerConfig{
		AppConfig:  a.cfg,
		ConfigPath: configPath,
		Transport:  transport,
		Port:       port,
		Logger:     a.log,
		Settings:   a.settings,
		Bus:        a.bus,
		Catalog:    a.catalog,
		Resolver:   a.resolver,
		Store:      a.store,
		Fetcher:    a.fetcher,
	}

	server, err := mcp.NewServer(serverCfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating MCP server: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.log.Warnf("MCP shutdown: %v", err)
		}
	}()

	a.log.Infof("Starting MCP server (transport: %s)", transport)

	if err := server.Run(); err != nil {
		fmt.Fprintf(stderr, "MCP server error: %v\n", err)
		return 1
	}

	return 0
}
