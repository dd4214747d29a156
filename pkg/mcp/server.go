package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/alt-text-gen/pkg/models"
	"github.com/Sriram-PR/alt-text-gen/pkg/pipeline"
)

const (
	serverName    = "alt-text-gen"
	serverVersion = "1.0.0"
)

// Generator is implemented by *pipeline.Pipeline
type Generator interface {
	GenerateAndReview(ctx context.Context, assetID int64, source models.Source) (*pipeline.Outcome, error)
}

// Queue is implemented by *queue.Manager
type Queue interface {
	Start(ctx context.Context, scope models.QueueScope, batch int) (*models.QueueState, error)
	Cancel(ctx context.Context) error
	Tick(ctx context.Context) (*models.QueueState, error)
	State(ctx context.Context) (*models.QueueState, error)
}

// Usage is implemented by *usage.Ledger
type Usage interface {
	Snapshot(ctx context.Context) models.UsageLedger
}

// Stats is implemented by any storage.AssetStore
type Stats interface {
	MediaStats(ctx context.Context) (models.MediaStats, error)
}

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	Generator Generator
	Queue     Queue
	Usage     Usage
	Stats     Stats
	Transport string // "stdio" or "sse"
	Port      int
	Logger    *logrus.Logger
}

// Server wraps the MCP server with the alt-text tools
type Server struct {
	mcpServer *server.MCPServer
	cfg       *ServerConfig
	log       *logrus.Entry
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.Generator == nil || cfg.Queue == nil || cfg.Usage == nil || cfg.Stats == nil {
		return nil, fmt.Errorf("generator, queue, usage and stats are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
	)

	s := &Server{
		mcpServer: mcpServer,
		cfg:       cfg,
		log:       cfg.Logger.WithField("component", "mcp"),
	}
	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	tools := []server.ServerTool{
		{
			Tool: mcp.NewTool("generate_alt_text",
				mcp.WithDescription("Generate, review and save alt text for one image asset"),
				mcp.WithNumber("asset_id",
					mcp.Required(),
					mcp.Description("Numeric ID of the image asset"),
				),
			),
			Handler: s.handleGenerateAltText,
		},
		{
			Tool: mcp.NewTool("start_queue",
				mcp.WithDescription("Start the background queue. Replaces any active run and processes the first batch immediately."),
				mcp.WithString("scope",
					mcp.Required(),
					mcp.Enum(string(models.ScopeMissing), string(models.ScopeAll)),
					mcp.Description("'missing' for images without alt text, 'all' to regenerate every image"),
				),
				mcp.WithNumber("batch_size",
					mcp.Description("Images per tick (1-20, default from config)"),
				),
			),
			Handler: s.handleStartQueue,
		},
		{
			Tool:    mcp.NewTool("cancel_queue", mcp.WithDescription("Cancel the active queue run and clear its state")),
			Handler: s.handleCancelQueue,
		},
		{
			Tool:    mcp.NewTool("run_queue_tick", mcp.WithDescription("Process the next batch of the active queue run now")),
			Handler: s.handleRunQueueTick,
		},
		{
			Tool:    mcp.NewTool("queue_status", mcp.WithDescription("Get the queue state, progress and recent messages")),
			Handler: s.handleQueueStatus,
		},
		{
			Tool:    mcp.NewTool("usage_summary", mcp.WithDescription("Get cumulative token usage and the alert threshold")),
			Handler: s.handleUsageSummary,
		},
		{
			Tool:    mcp.NewTool("media_stats", mcp.WithDescription("Get alt text coverage across the image library")),
			Handler: s.handleMediaStats,
		},
	}
	s.mcpServer.AddTools(tools...)

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
