package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CaptainPhantasy/floyd/internal/config"
)

const (
	wsSweepInterval = 30 * time.Second
	wsPendingMaxAge = 60 * time.Second
)

// pendingEntry is one in-flight request on the WebSocket transport. The
// enqueue timestamp lets the sweeper expire entries whose responses never
// arrive.
type pendingEntry struct {
	ch       chan *JSONRPCResponse
	enqueued time.Time
}

// wsTransport speaks JSON-RPC over a WebSocket connection, one JSON object
// per text frame. Writes are serialized with a mutex; a background sweeper
// fails requests that outlive wsPendingMaxAge.
type wsTransport struct {
	cfg    config.MCPServer
	logger *slog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	pending   map[int64]*pendingEntry
	pendingMu sync.Mutex
	nextID    atomic.Int64

	connected atomic.Bool
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func newWSTransport(cfg config.MCPServer) *wsTransport {
	return &wsTransport{
		cfg:      cfg,
		logger:   slog.Default().With("mcp_server", cfg.Name, "transport", "websocket"),
		pending:  make(map[int64]*pendingEntry),
		stopChan: make(chan struct{}),
	}
}

func (t *wsTransport) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, t.cfg.Transport.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.cfg.Transport.URL, err)
	}

	t.conn = conn
	t.connected.Store(true)
	t.logger.Info("connected to MCP server", "url", t.cfg.Transport.URL)

	t.wg.Add(2)
	go t.readLoop()
	go t.sweepLoop()

	return nil
}

func (t *wsTransport) Close() error {
	t.connected.Store(false)
	t.stopOnce.Do(func() { close(t.stopChan) })

	if t.conn != nil {
		t.conn.Close()
	}
	t.wg.Wait()
	t.failAllPending()
	return nil
}

func (t *wsTransport) Connected() bool {
	return t.connected.Load()
}

func (t *wsTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, ErrNotConnected
	}

	id := t.nextID.Add(1)
	req := JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = paramsJSON
	}

	entry := &pendingEntry{ch: make(chan *JSONRPCResponse, 1), enqueued: time.Now()}
	t.pendingMu.Lock()
	t.pending[id] = entry
	t.pendingMu.Unlock()

	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if err := t.writeFrame(req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	timeout := t.cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultMCPTimeout
	}

	select {
	case resp := <-entry.ch:
		if resp == nil {
			return nil, ErrTransportClosed
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("request timeout after %v", timeout)
	case <-t.stopChan:
		return nil, ErrTransportClosed
	}
}

func (t *wsTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}

	notif := JSONRPCNotification{JSONRPC: "2.0", Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		notif.Params = paramsJSON
	}
	if err := t.writeFrame(notif); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

func (t *wsTransport) writeFrame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) readLoop() {
	defer t.wg.Done()
	defer func() {
		t.connected.Store(false)
		t.failAllPending()
	}()

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.stopChan:
			default:
				t.logger.Warn("read failed", "error", err)
			}
			return
		}

		var resp JSONRPCResponse
		if err := json.Unmarshal(data, &resp); err != nil || resp.ID == nil {
			continue
		}
		id, ok := numericID(resp.ID)
		if !ok {
			t.logger.Warn("unexpected response ID type", "id", resp.ID)
			continue
		}

		t.pendingMu.Lock()
		if entry, exists := t.pending[id]; exists {
			select {
			case entry.ch <- &resp:
			default:
			}
			delete(t.pending, id)
		}
		t.pendingMu.Unlock()
	}
}

// sweepLoop expires pending entries whose responses never arrived, so a
// server that silently drops a request cannot pin memory forever.
func (t *wsTransport) sweepLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(wsSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopChan:
			return
		case now := <-ticker.C:
			t.sweepPending(now)
		}
	}
}

func (t *wsTransport) sweepPending(now time.Time) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	for id, entry := range t.pending {
		if now.Sub(entry.enqueued) < wsPendingMaxAge {
			continue
		}
		t.logger.Warn("expiring stale pending request", "id", id, "age", now.Sub(entry.enqueued))
		select {
		case entry.ch <- nil:
		default:
		}
		delete(t.pending, id)
	}
}

func (t *wsTransport) failAllPending() {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	for id, entry := range t.pending {
		select {
		case entry.ch <- nil:
		default:
		}
		delete(t.pending, id)
	}
}
