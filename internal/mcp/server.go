package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultServerAddr is where Serve listens unless told otherwise.
const DefaultServerAddr = "localhost:3000"

// ToolService is what the inbound server exposes: the manager's aggregated
// catalogue plus the engine's status.
type ToolService interface {
	ListTools() []*Tool
	CallTool(ctx context.Context, name string, arguments json.RawMessage) (*ToolCallResult, error)
	AgentStatus() AgentStatus
}

// Server exposes the agent over MCP: one JSON-RPC object per WebSocket text
// frame, methods initialize, tools/list, tools/call and agent/status.
type Server struct {
	addr    string
	svc     ToolService
	logger  *slog.Logger
	version string

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// NewServer builds a server bound to addr (DefaultServerAddr when empty).
func NewServer(addr string, svc ToolService, logger *slog.Logger) *Server {
	if addr == "" {
		addr = DefaultServerAddr
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:    addr,
		svc:     svc,
		logger:  logger.With("component", "mcp_server"),
		version: clientVersion,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.addr }

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)

	s.httpSrv = &http.Server{Addr: s.addr, Handler: mux}
	s.logger.Info("MCP server listening", "addr", s.addr)

	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve accepts connections from an existing listener, for callers that bind
// the port themselves.
func (s *Server) Serve(ln net.Listener) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)

	s.httpSrv = &http.Server{Handler: mux}
	err := s.httpSrv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Handler returns the WebSocket handler, for mounting under a test server.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleWS)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.logger.Debug("client connected", "remote", r.RemoteAddr)
	go s.serveConn(conn)
}

// serveConn reads frames until the client goes away. Responses share the
// connection, so writes are serialized with a per-connection mutex.
func (s *Server) serveConn(conn *websocket.Conn) {
	defer conn.Close()
	var writeMu sync.Mutex

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("connection closed", "error", err)
			}
			return
		}

		var req JSONRPCRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.writeResponse(conn, &writeMu, JSONRPCResponse{
				JSONRPC: "2.0",
				Error:   &JSONRPCError{Code: ErrCodeParseError, Message: "parse error"},
			})
			continue
		}
		// Notifications carry no id and get no reply.
		if req.ID == nil {
			continue
		}

		go func(req JSONRPCRequest) {
			resp := s.dispatch(&req)
			s.writeResponse(conn, &writeMu, resp)
		}(req)
	}
}

func (s *Server) writeResponse(conn *websocket.Conn, mu *sync.Mutex, resp JSONRPCResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", "error", err)
		return
	}
	mu.Lock()
	defer mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("write failed", "error", err)
	}
}

func (s *Server) dispatch(req *JSONRPCRequest) JSONRPCResponse {
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		resp.Result = mustMarshal(InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    Capabilities{Tools: &ToolsCapability{}},
			ServerInfo:      ServerInfo{Name: "floyd", Version: s.version},
		})

	case "tools/list":
		tools := s.svc.ListTools()
		if tools == nil {
			tools = []*Tool{}
		}
		resp.Result = mustMarshal(ListToolsResult{Tools: tools})

	case "tools/call":
		var params CallToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
			resp.Error = &JSONRPCError{Code: ErrCodeInvalidParams, Message: "tools/call requires a name"}
			break
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		result, err := s.svc.CallTool(ctx, params.Name, params.Arguments)
		cancel()
		if err != nil {
			resp.Error = &JSONRPCError{Code: ErrCodeInternalError, Message: err.Error()}
			break
		}
		resp.Result = mustMarshal(result)

	case "agent/status":
		resp.Result = mustMarshal(s.svc.AgentStatus())

	default:
		resp.Error = &JSONRPCError{Code: ErrCodeMethodNotFound, Message: "method not found: " + req.Method}
	}
	return resp
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// All server result types marshal cleanly.
		panic(err)
	}
	return data
}
