// Package engine executes decoded JSON-RPC calls against an endpoint group's
// tool and resource surface. It is the Dispatcher consumed by the transport;
// the transport knows nothing about the methods handled here.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/KennethLeeJE8/datadam-mcp-sub001/internal/jsonrpc"
	"github.com/KennethLeeJE8/datadam-mcp-sub001/internal/logctx"
	"github.com/KennethLeeJE8/datadam-mcp-sub001/internal/toolset"
	"github.com/KennethLeeJE8/datadam-mcp-sub001/mcp"
)

// ResourceReader produces the current contents of a static resource.
type ResourceReader func(ctx context.Context) (mcp.ResourceContents, error)

// StaticResource pairs a resource descriptor with its reader.
type StaticResource struct {
	Descriptor mcp.Resource
	Read       ResourceReader
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithInstructions sets the instructions string returned from initialize.
func WithInstructions(s string) Option {
	return func(e *Engine) { e.instructions = s }
}

// WithResources binds static resources to the engine. Resource capabilities
// are advertised only when at least one resource is bound.
func WithResources(resources ...StaticResource) Option {
	return func(e *Engine) {
		for _, r := range resources {
			e.resources = append(e.resources, r)
			e.resourceIdx[r.Descriptor.URI] = r
		}
	}
}

// Engine is one endpoint group's dispatch table. It is safe for concurrent
// use; all fields are set at construction.
type Engine struct {
	serverInfo   mcp.ImplementationInfo
	instructions string
	tools        *toolset.Set
	resources    []StaticResource
	resourceIdx  map[string]StaticResource
	log          *slog.Logger
}

// New builds an engine over the given tool set.
func New(serverInfo mcp.ImplementationInfo, tools *toolset.Set, opts ...Option) *Engine {
	e := &Engine{
		serverInfo:  serverInfo,
		tools:       tools,
		resourceIdx: make(map[string]StaticResource),
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Initialize performs protocol version negotiation and advertises the
// engine's capabilities. Unknown client revisions are answered with the
// latest revision the server implements.
func (e *Engine) Initialize(ctx context.Context, req *mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	version := mcp.LatestProtocolVersion
	for _, v := range mcp.SupportedProtocolVersions {
		if req.ProtocolVersion == v {
			version = v
			break
		}
	}

	caps := mcp.ServerCapabilities{
		Tools: &struct {
			ListChanged bool `json:"listChanged"`
		}{ListChanged: false},
	}
	if len(e.resources) > 0 {
		caps.Resources = &struct {
			ListChanged bool `json:"listChanged"`
			Subscribe   bool `json:"subscribe"`
		}{}
	}

	e.log.InfoContext(ctx, "session.handshake",
		slog.String("client", req.ClientInfo.Name),
		slog.String("client_version", req.ClientInfo.Version),
		slog.String("protocol_version", version),
	)

	return &mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    caps,
		ServerInfo:      e.serverInfo,
		Instructions:    e.instructions,
	}, nil
}

// Execute handles one non-initialize call. Notifications yield (nil, nil).
// Tool and resource failures are reported as JSON-RPC error responses or
// isError tool results; they never propagate as transport failures.
func (e *Engine) Execute(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if req.IsNotification() {
		// notifications/initialized, notifications/cancelled, and anything
		// else a client may emit: acknowledged without a response.
		if !strings.HasPrefix(req.Method, "notifications/") {
			e.log.WarnContext(ctx, "rpc.notification.unrecognized", slog.String("method", req.Method))
		}
		return nil, nil
	}

	switch mcp.Method(req.Method) {
	case mcp.PingMethod:
		return jsonrpc.NewResultResponse(req.ID, struct{}{})
	case mcp.ToolsListMethod:
		return jsonrpc.NewResultResponse(req.ID, mcp.ListToolsResult{Tools: e.tools.List()})
	case mcp.ToolsCallMethod:
		return e.executeToolCall(ctx, req)
	case mcp.ResourcesListMethod:
		return e.executeResourcesList(ctx, req)
	case mcp.ResourcesReadMethod:
		return e.executeResourceRead(ctx, req)
	default:
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil), nil
	}
}

func (e *Engine) executeToolCall(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var call mcp.CallToolRequest
	if err := json.Unmarshal(req.Params, &call); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid tools/call params", nil), nil
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: call.Name})
	e.log.InfoContext(ctx, "tool.call.start")

	res, err := e.tools.Call(ctx, &call)
	if err != nil {
		if errors.Is(err, toolset.ErrToolNotFound) {
			e.log.InfoContext(ctx, "tool.call.unknown")
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, err.Error(), nil), nil
		}
		e.log.ErrorContext(ctx, "tool.call.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "tool execution failed", nil), nil
	}
	if res.IsError {
		e.log.InfoContext(ctx, "tool.call.tool_error")
	} else {
		e.log.InfoContext(ctx, "tool.call.ok")
	}
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) executeResourcesList(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	out := make([]mcp.Resource, 0, len(e.resources))
	for _, r := range e.resources {
		out = append(out, r.Descriptor)
	}
	return jsonrpc.NewResultResponse(req.ID, mcp.ListResourcesResult{Resources: out})
}

func (e *Engine) executeResourceRead(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var rr mcp.ReadResourceRequest
	if err := json.Unmarshal(req.Params, &rr); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid resources/read params", nil), nil
	}
	res, ok := e.resourceIdx[rr.URI]
	if !ok {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("unknown resource: %s", rr.URI), nil), nil
	}
	contents, err := res.Read(ctx)
	if err != nil {
		e.log.ErrorContext(ctx, "resource.read.fail", slog.String("uri", rr.URI), slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "resource read failed", nil), nil
	}
	return jsonrpc.NewResultResponse(req.ID, mcp.ReadResourceResult{Contents: []mcp.ResourceContents{contents}})
}
