package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	protocolVersion = "2024-11-05"
	serverName      = "copado-mcp-server"
	serverVersion   = "0.1.0"

	// Largest accepted request line.
	maxMessageSize = 10 * 1024 * 1024
)

// Method is the closed set of JSON-RPC methods this server understands.
type Method int

const (
	MethodUnknown Method = iota
	MethodInitialize
	MethodInitialized
	MethodToolsList
	MethodToolsCall
)

// ParseMethod maps a wire method to a Method, MethodUnknown if unsupported.
func ParseMethod(method string) Method {
	switch method {
	case "initialize":
		return MethodInitialize
	case "notifications/initialized":
		return MethodInitialized
	case "tools/list":
		return MethodToolsList
	case "tools/call":
		return MethodToolsCall
	default:
		return MethodUnknown
	}
}

// Gateway is the set of Copado operations the dispatcher routes tools to.
type Gateway interface {
	Mode() Mode
	ListUserStories(ctx context.Context, status string) ([]UserStory, error)
	ListPromotions(ctx context.Context) ([]Promotion, error)
	CreatePromotion(ctx context.Context, sourceEnv, targetEnv string, userStoryIDs []string) (*Promotion, error)
	DeployPromotion(ctx context.Context, promotionID string) (*DeployResult, error)
}

type ToolsListResponse struct {
	Tools []mcp.Tool `json:"tools"`
}

// Server reads one JSON-RPC request per line and writes one response per
// request line. Requests are handled strictly in order.
type Server struct {
	gateway Gateway
	out     *bufio.Writer
	encoder *json.Encoder
	logger  *slog.Logger
	audit   *AuditLogger

	// busy is held while a message is being handled.
	busy sync.Mutex
}

// NewServer creates a dispatcher writing responses to out. audit may be nil.
func NewServer(gateway Gateway, out io.Writer, logger *slog.Logger, audit *AuditLogger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	w := bufio.NewWriter(out)
	return &Server{
		gateway: gateway,
		out:     w,
		encoder: json.NewEncoder(w),
		logger:  logger,
		audit:   audit,
	}
}

// Serve runs the read loop until in is exhausted or ctx is done.
func (s *Server) Serve(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var msg MCPMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			s.logger.Error("invalid JSON received", "error", err)
			continue
		}

		s.busy.Lock()
		if err := ctx.Err(); err != nil {
			s.busy.Unlock()
			return err
		}
		s.handleMessage(ctx, &msg)
		s.busy.Unlock()
	}

	if err := scanner.Err(); err != nil {
		s.logger.Error("scanner error", "error", err, "max_bytes", maxMessageSize)
		return err
	}
	return nil
}

// idle returns a channel closed once no message is being handled. Called
// after ctx is cancelled, Serve starts no further messages.
func (s *Server) idle() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		s.busy.Lock()
		s.busy.Unlock()
		close(ch)
	}()
	return ch
}

// handleMessage dispatches msg and writes the response, if any. It never
// lets a failure escape into the read loop.
func (s *Server) handleMessage(ctx context.Context, msg *MCPMessage) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("error processing request", "method", msg.Method, "panic", r)
		}
	}()

	resp := s.handleRequest(ctx, msg)
	if resp == nil {
		return
	}
	if msg.IsNotification() {
		s.logger.Debug("dropping response to notification", "method", msg.Method)
		return
	}
	if err := s.writeResponse(resp); err != nil {
		s.logger.Error("failed to write response", "method", msg.Method, "error", err)
	}
}

// handleRequest routes msg to its handler. A nil response means nothing is
// sent back.
func (s *Server) handleRequest(ctx context.Context, msg *MCPMessage) *MCPResponse {
	s.logger.Debug("request received", "method", msg.Method, "id", string(msg.ID))

	switch ParseMethod(msg.Method) {
	case MethodInitialize:
		return resultResponse(msg.ID, InitializeResponse{
			ProtocolVersion: protocolVersion,
			Capabilities: map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			ServerInfo: ServerInfo{
				Name:    serverName,
				Version: serverVersion,
			},
		})
	case MethodInitialized:
		return nil
	case MethodToolsList:
		return resultResponse(msg.ID, ToolsListResponse{Tools: toolCatalog()})
	case MethodToolsCall:
		return s.handleToolCall(ctx, msg)
	default:
		return errorResponse(msg.ID, CodeMethodNotFound, "Method not found")
	}
}

// handleToolCall processes tool call requests
func (s *Server) handleToolCall(ctx context.Context, msg *MCPMessage) (resp *MCPResponse) {
	var params mcp.CallToolParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return errorResponse(msg.ID, CodeInvalidParams, fmt.Sprintf("failed to unmarshal params: %v", err))
		}
	}

	tool := ParseToolName(params.Name)
	if tool == ToolUnknown {
		return errorResponse(msg.ID, CodeMethodNotFound, "Method not found")
	}

	request := mcp.CallToolRequest{Params: params}
	start := time.Now()
	var callErr error
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tool call panicked", "tool", tool.String(), "panic", r)
			callErr = fmt.Errorf("internal error: %v", r)
			resp = errorResponse(msg.ID, CodeInternalError, callErr.Error())
		}
		s.audit.Record(AuditEntry{
			Tool:       tool.String(),
			Arguments:  request.GetArguments(),
			Mode:       string(s.gateway.Mode()),
			DurationMs: time.Since(start).Milliseconds(),
			Success:    callErr == nil,
			Error:      errorString(callErr),
		})
	}()

	result, err := s.callTool(ctx, tool, request)
	callErr = err
	if err != nil {
		if IsValidation(err) || IsNotFound(err) {
			return resultResponse(msg.ID, mcp.NewToolResultText("Error: "+userMessage(err)))
		}
		s.logger.Error("tool call failed", "tool", tool.String(), "error", err)
		return errorResponse(msg.ID, CodeInternalError, err.Error())
	}

	text, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		callErr = err
		return errorResponse(msg.ID, CodeInternalError, fmt.Sprintf("failed to marshal result: %v", err))
	}
	return resultResponse(msg.ID, mcp.NewToolResultText(string(text)))
}

// callTool extracts arguments and invokes the gateway operation for tool.
func (s *Server) callTool(ctx context.Context, tool ToolName, request mcp.CallToolRequest) (interface{}, error) {
	switch tool {
	case ToolListUserStories:
		return s.gateway.ListUserStories(ctx, request.GetString("status", ""))
	case ToolListPromotions:
		return s.gateway.ListPromotions(ctx)
	case ToolCreatePromotion:
		userStoryIDs, err := stringArrayArgument(request.GetArguments(), "user_story_ids")
		if err != nil {
			return nil, err
		}
		return s.gateway.CreatePromotion(ctx,
			request.GetString("source_env", ""),
			request.GetString("target_env", ""),
			userStoryIDs,
		)
	case ToolDeployPromotion:
		return s.gateway.DeployPromotion(ctx, request.GetString("promotion_id", ""))
	default:
		return nil, fmt.Errorf("unsupported tool %s", tool)
	}
}

// stringArrayArgument returns args[key] when it is an array holding only
// strings. Any other element type is rejected so the list is never altered.
func stringArrayArgument(args map[string]any, key string) ([]string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, validationError("", "%s array is required", key)
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, validationError("", "%s must be an array of strings", key)
	}
	values := make([]string, 0, len(items))
	for _, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, validationError("", "%s must be an array of strings", key)
		}
		values = append(values, str)
	}
	return values, nil
}

// writeResponse encodes resp as one line and flushes it.
func (s *Server) writeResponse(resp *MCPResponse) error {
	if err := s.encoder.Encode(resp); err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	return s.out.Flush()
}

func resultResponse(id json.RawMessage, result interface{}) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
}

func errorResponse(id json.RawMessage, code int, message string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
		},
	}
}

// userMessage strips the operation prefix from gateway errors.
func userMessage(err error) string {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr.Err.Error()
	}
	return err.Error()
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
