package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/members-filter/pkg/bus"
	"github.com/Sriram-PR/members-filter/pkg/channel"
	"github.com/Sriram-PR/members-filter/pkg/config"
	"github.com/Sriram-PR/members-filter/pkg/fetch"
	"github.com/Sriram-PR/members-filter/pkg/selectors"
	"github.com/Sriram-PR/members-filter/pkg/settings"
	"github.com/Sriram-PR/members-filter/pkg/storage"
)

const (
	serverName    = "members-filter"
	serverVersion = "1.0.0"
)

// ServerConfig holds configuration and collaborators for the MCP server
type ServerConfig struct {
	AppConfig  *config.AppConfig
	ConfigPath string
	Transport  string // "stdio" or "sse"
	Port       int
	Logger     *logrus.Logger

	Settings *settings.Service
	Bus      *bus.Bus
	Catalog  *selectors.Catalog
	Resolver *channel.Resolver
	Store    storage.Store
	Fetcher  *fetch.Fetcher // Optional; lets filter_page download a page when no markup is given
}

// Server wraps the MCP server with the filter's settings and page tools
type Server struct {
	mcpServer *server.MCPServer
	cfg       *ServerConfig
	log       *logrus.Entry
	sessions  *SessionManager

	// Parent context of every page session
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is required")
	}
	if cfg.Settings == nil || cfg.Bus == nil || cfg.Catalog == nil || cfg.Resolver == nil || cfg.Store == nil {
		return nil, fmt.Errorf("settings, bus, catalog, resolver and store are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		mcpServer: mcpServer,
		cfg:       cfg,
		log:       cfg.Logger.WithField("component", "mcp"),
		sessions:  NewSessionManager(),
		ctx:       ctx,
		cancel:    cancel,
	}

	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	tools := []struct {
		tool    mcp.Tool
		handler server.ToolHandlerFunc
	}{
		{mcp.NewTool("get_stats",
			mcp.WithDescription("Report how many members-only videos were hidden, in total and for one page session"),
			mcp.WithString("session_id",
				mcp.Description("Page session to report the per-page count for (optional)"),
			),
		), s.handleGetStats},
		{mcp.NewTool("list_whitelist",
			mcp.WithDescription("List the whitelisted channels whose members-only videos stay visible"),
		), s.handleListWhitelist},
		{mcp.NewTool("add_channel",
			mcp.WithDescription("Whitelist a channel by handle. The channel's display name is looked up and added too."),
			mcp.WithString("handle",
				mcp.Required(),
				mcp.Description("Channel handle starting with @ (e.g., '@SomeCreator')"),
			),
		), s.handleAddChannel},
		{mcp.NewTool("remove_channel",
			mcp.WithDescription("Remove an entry from the whitelist"),
			mcp.WithString("entry",
				mcp.Required(),
				mcp.Description("The exact whitelist entry to remove"),
			),
		), s.handleRemoveChannel},
		{mcp.NewTool("set_enabled",
			mcp.WithDescription("Turn members-only filtering on or off for every open page"),
			mcp.WithBoolean("enabled",
				mcp.Required(),
				mcp.Description("true to hide members-only videos, false to show everything"),
			),
		), s.handleSetEnabled},
		{mcp.NewTool("clear_cache",
			mcp.WithDescription("Forget every cached blocked title and re-evaluate open pages"),
		), s.handleClearCache},
		{mcp.NewTool("list_cached_titles",
			mcp.WithDescription("List titles of videos that were hidden, with their channel and when they were first hidden"),
			mcp.WithString("query",
				mcp.Description("Case-insensitive substring filter on the title (optional)"),
			),
			mcp.WithNumber("max_results",
				mcp.Description("Maximum number of titles to return (default: 50, max: 1000)"),
			),
		), s.handleListCachedTitles},
		{mcp.NewTool("filter_page",
			mcp.WithDescription("Run one filter pass over a rendered page and return the filtered HTML"),
			mcp.WithString("url",
				mcp.Required(),
				mcp.Description("Address of the page (channel pages are recognized from it)"),
			),
			mcp.WithString("html",
				mcp.Description("Rendered page markup. When omitted the page is downloaded from url."),
			),
			mcp.WithBoolean("include_html",
				mcp.Description("Return the filtered markup (default: true)"),
			),
		), s.handleFilterPage},
		{mcp.NewTool("open_page",
			mcp.WithDescription("Open a live page session that keeps filtering as items are appended or the page navigates"),
			mcp.WithString("url",
				mcp.Required(),
				mcp.Description("Address of the page"),
			),
			mcp.WithString("html",
				mcp.Required(),
				mcp.Description("Rendered page markup"),
			),
		), s.handleOpenPage},
		{mcp.NewTool("append_items",
			mcp.WithDescription("Append markup to a page session, the way a feed grows while scrolling"),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The session ID returned by open_page"),
			),
			mcp.WithString("parent_selector",
				mcp.Required(),
				mcp.Description("CSS selector of the node(s) to append to"),
			),
			mcp.WithString("html",
				mcp.Required(),
				mcp.Description("Markup fragment to append"),
			),
		), s.handleAppendItems},
		{mcp.NewTool("navigate_page",
			mcp.WithDescription("Change a page session's address without reloading, like a single-page-app route change"),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The session ID returned by open_page"),
			),
			mcp.WithString("url",
				mcp.Required(),
				mcp.Description("New page address"),
			),
			mcp.WithString("html",
				mcp.Description("Replacement markup for the new address (optional)"),
			),
		), s.handleNavigatePage},
		{mcp.NewTool("get_page",
			mcp.WithDescription("Get the state of a page session: hidden items, engine counters and optionally the markup"),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The session ID returned by open_page"),
			),
			mcp.WithBoolean("include_html",
				mcp.Description("Return the current markup (default: false)"),
			),
		), s.handleGetPage},
		{mcp.NewTool("close_page",
			mcp.WithDescription("Close a page session"),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The session ID returned by open_page"),
			),
		), s.handleClosePage},
	}

	for _, t := range tools {
		s.mcpServer.AddTool(t.tool, t.handler)
	}
	s.log.Infof("Registered %d MCP tools", len(tools))
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		sseServer := server.NewSSEServer(s.mcpServer)
		return sseServer.Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown closes every page session
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	done := make(chan struct{})
	go func() {
		s.sessions.CloseAll()
		close(done)
	}()
	s.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
