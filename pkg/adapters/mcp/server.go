package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/callpath"
	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/ports"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RunResponse aligns with the HTTP adapter and provides a unified structure across adapters.
type RunResponse struct {
	RunID  string         `json:"run_id" jsonschema_description:"The run the items belong to"`
	Status string         `json:"status" jsonschema_description:"Run status after processing"`
	Error  string         `json:"error,omitempty" jsonschema_description:"Step failure or interrupt raised while processing"`
	Items  []*domain.Item `json:"items" jsonschema_description:"Items of the run with their status, position and metadata"`
}

// StartArgs are the arguments of the start_pipeline tool.
type StartArgs struct {
	Pipeline   string `json:"pipeline"`
	Data       string `json:"data,omitempty"`
	ItemIDs    string `json:"item_ids,omitempty"`
	StopOnHalt bool   `json:"stop_on_halt,omitempty"`
}

// ResumeArgs are the arguments of the resume_item tool.
type ResumeArgs struct {
	ItemID int64  `json:"item_id"`
	Point  string `json:"point,omitempty"`
}

// RestartArgs are the arguments of the restart_run tool.
type RestartArgs struct {
	RunID string `json:"run_id"`
}

// ItemArgs are the arguments of the get_item tool.
type ItemArgs struct {
	ItemID int64 `json:"item_id"`
}

// ItemResponse is an item with the task it is positioned at.
type ItemResponse struct {
	Item *domain.Item     `json:"item"`
	Task *domain.TaskInfo `json:"task,omitempty"`
}

// Engine defines the callpath operations exposed as MCP tools.
type Engine interface {
	Start(ctx context.Context, pipeline string, in callpath.Input, opts ...callpath.RunOption) (string, error)
	Resume(ctx context.Context, itemID int64, point domain.RestartPoint, opts ...callpath.RunOption) (string, error)
	Restart(ctx context.Context, runID string, opts ...callpath.RunOption) (string, error)
	Item(ctx context.Context, id int64) (*domain.Item, error)
	Items(ctx context.Context, filter ports.ItemFilter) ([]*domain.Item, error)
	Run(ctx context.Context, id string) (*domain.Run, error)
	Pipelines() []string
	Definition(name string) (domain.Definition, error)
	CurrentTask(ctx context.Context, item *domain.Item) (domain.TaskInfo, error)
}

// Server wraps the callpath Engine and exposes it as an MCP Server.
type Server struct {
	engine    Engine
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP Server instance.
func NewServer(engine Engine) *Server {
	s := &Server{
		engine:    engine,
		mcpServer: server.NewMCPServer("callpath-mcp", strings.TrimSpace(callpath.Version)),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		slog.Info("Shutdown signal received, shutting down MCP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	// TOOL: start_pipeline
	startTool := mcp.NewTool("start_pipeline",
		mcp.WithDescription("Start a new run of a pipeline over new data or existing items. Returns once every item completed or suspended."),
		mcp.WithString("pipeline", mcp.Required(), mcp.Description("Name of the pipeline to run")),
		mcp.WithString("data", mcp.Description("JSON array of objects, one new item per object")),
		mcp.WithString("item_ids", mcp.Description("JSON array of existing item IDs to process")),
		mcp.WithBoolean("stop_on_halt", mcp.Description("Return at the first suspended or failed item")),
		mcp.WithOutputSchema[RunResponse](),
	)
	s.mcpServer.AddTool(startTool, mcp.NewStructuredToolHandler(s.handleStart))

	// TOOL: resume_item
	resumeTool := mcp.NewTool("resume_item",
		mcp.WithDescription("Resume a halted, waiting or failed item inside its run."),
		mcp.WithNumber("item_id", mcp.Required(), mcp.Description("ID of the item to resume")),
		mcp.WithString("point", mcp.Description("restart_task, continue_next (default) or restart_prev"),
			mcp.Enum(string(domain.RestartTask), string(domain.ContinueNext), string(domain.RestartPrev))),
		mcp.WithOutputSchema[RunResponse](),
	)
	s.mcpServer.AddTool(resumeTool, mcp.NewStructuredToolHandler(s.handleResume))

	// TOOL: restart_run
	restartTool := mcp.NewTool("restart_run",
		mcp.WithDescription("Reprocess every top-level item of a run from the first step."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
		mcp.WithOutputSchema[RunResponse](),
	)
	s.mcpServer.AddTool(restartTool, mcp.NewStructuredToolHandler(s.handleRestart))

	// TOOL: get_item
	itemTool := mcp.NewTool("get_item",
		mcp.WithDescription("Get an item with its status, pending action and current task."),
		mcp.WithNumber("item_id", mcp.Required(), mcp.Description("ID of the item")),
		mcp.WithOutputSchema[ItemResponse](),
	)
	s.mcpServer.AddTool(itemTool, mcp.NewStructuredToolHandler(s.handleGetItem))

	// TOOL: list_pipelines
	s.mcpServer.AddTool(mcp.NewTool("list_pipelines",
		mcp.WithDescription("List the registered pipeline names."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jsonBytes, _ := json.Marshal(s.engine.Pipelines())
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})
}

// Handler methods for structured tools

func (s *Server) handleStart(ctx context.Context, request mcp.CallToolRequest, args StartArgs) (RunResponse, error) {
	in := callpath.Input{}
	if args.Data != "" {
		if err := json.Unmarshal([]byte(args.Data), &in.Data); err != nil {
			return RunResponse{}, fmt.Errorf("data must be a JSON array of objects: %w", err)
		}
	}
	if args.ItemIDs != "" {
		if err := json.Unmarshal([]byte(args.ItemIDs), &in.ItemIDs); err != nil {
			return RunResponse{}, fmt.Errorf("item_ids must be a JSON array of integers: %w", err)
		}
	}
	runID, err := s.engine.Start(ctx, args.Pipeline, in, callpath.StopOnHalt(args.StopOnHalt))
	return s.report(ctx, runID, err)
}

func (s *Server) handleResume(ctx context.Context, request mcp.CallToolRequest, args ResumeArgs) (RunResponse, error) {
	point := domain.ContinueNext
	if args.Point != "" {
		p, err := domain.ParseRestartPoint(args.Point)
		if err != nil {
			return RunResponse{}, err
		}
		point = p
	}
	runID, err := s.engine.Resume(ctx, args.ItemID, point)
	return s.report(ctx, runID, err)
}

func (s *Server) handleRestart(ctx context.Context, request mcp.CallToolRequest, args RestartArgs) (RunResponse, error) {
	runID, err := s.engine.Restart(ctx, args.RunID)
	return s.report(ctx, runID, err)
}

func (s *Server) handleGetItem(ctx context.Context, request mcp.CallToolRequest, args ItemArgs) (ItemResponse, error) {
	item, err := s.engine.Item(ctx, args.ItemID)
	if err != nil {
		return ItemResponse{}, err
	}
	resp := ItemResponse{Item: item}
	if item.RunID != "" && !item.Position.IsZero() && item.Status != domain.ItemCompleted {
		if task, err := s.engine.CurrentTask(ctx, item); err == nil {
			resp.Task = &task
		}
	}
	return resp, nil
}

// report loads the run state after an invocation. Errors that happened while
// processing items are returned in the response, not as tool failures.
func (s *Server) report(ctx context.Context, runID string, err error) (RunResponse, error) {
	if runID == "" {
		return RunResponse{}, err
	}
	resp := RunResponse{RunID: runID}
	if err != nil {
		slog.Warn("MCP: run reported errors", "run_id", runID, "error", err)
		resp.Error = err.Error()
	}
	run, loadErr := s.engine.Run(ctx, runID)
	if loadErr != nil {
		if err != nil {
			return RunResponse{}, err
		}
		return RunResponse{}, loadErr
	}
	resp.Status = string(run.Status)
	items, loadErr := s.engine.Items(ctx, ports.ItemFilter{RunID: runID})
	if loadErr != nil {
		return RunResponse{}, loadErr
	}
	resp.Items = items
	return resp, nil
}

func (s *Server) registerResources() {
	// EXPOSE: callpath://pipelines
	s.mcpServer.AddResource(mcp.NewResource("callpath://pipelines", "Registered Pipelines",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		type pipeline struct {
			Name        string `json:"name"`
			Description string `json:"description,omitempty"`
			DataType    string `json:"data_type,omitempty"`
			Steps       int    `json:"steps"`
		}
		var out []pipeline
		for _, name := range s.engine.Pipelines() {
			def, err := s.engine.Definition(name)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve pipeline %q: %w", name, err)
			}
			out = append(out, pipeline{Name: def.Name, Description: def.Description, DataType: def.DataType, Steps: len(def.Steps)})
		}
		jsonBytes, _ := json.Marshal(out)

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "callpath://pipelines",
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
