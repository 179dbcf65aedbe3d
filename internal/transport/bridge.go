package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/ashureev/replyd/internal/shared"
)

// eventQueueSize bounds buffered inbound events before drop-oldest applies.
const eventQueueSize = 64

// frame is one JSON message on the bridge socket. Command responses carry
// the command's ID; unsolicited pushes carry an event name instead.
type frame struct {
	ID     string          `json:"id,omitempty"`
	Op     string          `json:"op,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	OK     bool            `json:"ok,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type sessionFile struct {
	Session string `json:"session"`
}

// BridgeClient implements Client against the local transport sidecar over a
// websocket. The sidecar owns the platform protocol; this client marshals
// commands, correlates responses by ID and fans unsolicited message events
// into the pipeline.
type BridgeClient struct {
	url         string
	callTimeout time.Duration
	sessionPath string

	mu      sync.Mutex // guards conn, pending, closed
	conn    *websocket.Conn
	pending map[string]chan frame
	closed  bool

	writeMu sync.Mutex

	events chan Event
}

// NewBridgeClient returns a client for the sidecar at url. The signed-in
// session blob is persisted under dataDir so restarts skip the login flow.
func NewBridgeClient(url, dataDir string, callTimeout time.Duration) *BridgeClient {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &BridgeClient{
		url:         url,
		callTimeout: callTimeout,
		sessionPath: filepath.Join(dataDir, "session.json"),
		pending:     make(map[string]chan frame),
		events:      make(chan Event, eventQueueSize),
	}
}

// Connect establishes the platform session, presenting any stored session
// blob so an already signed-in account skips the login flow.
func (c *BridgeClient) Connect(ctx context.Context, apiID, apiHash, phone string) error {
	params := map[string]string{
		"api_id":   apiID,
		"api_hash": apiHash,
		"phone":    phone,
	}
	if session := c.loadSession(); session != "" {
		params["session"] = session
	}

	var res sessionFile
	if err := c.call(ctx, "connect", params, &res); err != nil {
		return err
	}
	c.storeSession(res.Session)
	return nil
}

// IsAuthorized reports whether the session is already signed in.
func (c *BridgeClient) IsAuthorized(ctx context.Context) (bool, error) {
	var res struct {
		Authorized bool `json:"authorized"`
	}
	if err := c.call(ctx, "is_authorized", nil, &res); err != nil {
		return false, err
	}
	return res.Authorized, nil
}

// RequestLoginCode asks the platform to send a login code to phone.
func (c *BridgeClient) RequestLoginCode(ctx context.Context, phone string) error {
	return c.call(ctx, "request_code", map[string]string{"phone": phone}, nil)
}

// SignIn completes login with the code the operator received.
func (c *BridgeClient) SignIn(ctx context.Context, code string) error {
	var res sessionFile
	if err := c.call(ctx, "sign_in", map[string]string{"code": code}, &res); err != nil {
		return err
	}
	c.storeSession(res.Session)
	return nil
}

// SignInWithPassword completes two-step login.
func (c *BridgeClient) SignInWithPassword(ctx context.Context, password string) error {
	var res sessionFile
	if err := c.call(ctx, "sign_in_password", map[string]string{"password": password}, &res); err != nil {
		return err
	}
	c.storeSession(res.Session)
	return nil
}

// FetchHistory returns up to limit prior messages with a partner, oldest first.
func (c *BridgeClient) FetchHistory(ctx context.Context, partnerID string, limit int) ([]HistoryItem, error) {
	params := map[string]any{"partner_id": partnerID, "limit": limit}
	var res struct {
		Messages []HistoryItem `json:"messages"`
	}
	if err := c.call(ctx, "fetch_history", params, &res); err != nil {
		return nil, err
	}
	return res.Messages, nil
}

// SendMessage delivers text to a partner.
func (c *BridgeClient) SendMessage(ctx context.Context, partnerID, text string) error {
	return c.call(ctx, "send_message", map[string]string{"partner_id": partnerID, "text": text}, nil)
}

// MarkRead acknowledges a partner's messages up to messageID.
func (c *BridgeClient) MarkRead(ctx context.Context, partnerID string, messageID int64) error {
	return c.call(ctx, "mark_read", map[string]any{"partner_id": partnerID, "message_id": messageID}, nil)
}

// Events returns the inbound message stream.
func (c *BridgeClient) Events() <-chan Event {
	return c.events
}

// Close tears down the connection. Pending calls fail.
func (c *BridgeClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "shutting down"); err != nil {
			return fmt.Errorf("close bridge connection: %w", err)
		}
	}
	return nil
}

// call sends one command and waits for its correlated response.
func (c *BridgeClient) call(ctx context.Context, op string, params any, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	conn, err := c.ensureConn(ctx)
	if err != nil {
		return err
	}

	cmd := frame{ID: uuid.NewString(), Op: op}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode %s params: %w", op, err)
		}
		cmd.Params = raw
	}

	reply := make(chan frame, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("bridge client is closed")
	}
	c.pending[cmd.ID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, cmd.ID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err = wsjson.Write(ctx, conn, cmd)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("send %s: %w", op, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	case resp, ok := <-reply:
		if !ok {
			return fmt.Errorf("%s: bridge connection lost", op)
		}
		if !resp.OK {
			return bridgeError(resp.Code, resp.Error)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("decode %s result: %w", op, err)
			}
		}
		return nil
	}
}

// ensureConn dials the sidecar on first use and after a dropped connection.
func (c *BridgeClient) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("bridge client is closed")
	}
	if c.conn != nil {
		return c.conn, nil
	}

	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial bridge %s: %w", c.url, err)
	}
	c.conn = conn
	go c.readLoop(conn)
	slog.Info("[BRIDGE] Connected", "url", c.url)
	return conn, nil
}

// readLoop routes response frames to their pending calls and message events
// into the event queue. Exits when the connection drops.
func (c *BridgeClient) readLoop(conn *websocket.Conn) {
	ctx := context.Background()
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			c.dropConn(conn, err)
			return
		}

		switch {
		case f.ID != "":
			c.mu.Lock()
			reply, ok := c.pending[f.ID]
			c.mu.Unlock()
			if ok {
				select {
				case reply <- f:
				default:
				}
			}
		case f.Event == "message":
			var ev Event
			if err := json.Unmarshal(f.Data, &ev); err != nil {
				slog.Warn("[BRIDGE] Malformed message event", "error", err)
				continue
			}
			c.publish(ev)
		default:
			slog.Debug("[BRIDGE] Ignoring frame", "event", f.Event)
		}
	}
}

// dropConn forgets a dead connection and fails its in-flight calls. The
// next call redials.
func (c *BridgeClient) dropConn(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	orphaned := c.pending
	c.pending = make(map[string]chan frame)
	closed := c.closed
	c.mu.Unlock()

	for _, reply := range orphaned {
		close(reply)
	}
	_ = conn.Close(websocket.StatusInternalError, "read loop exited")
	if !closed {
		slog.Warn("[BRIDGE] Connection lost", "error", err)
	}
}

// publish enqueues an event, dropping the oldest queued event on overflow.
func (c *BridgeClient) publish(ev Event) {
	for {
		select {
		case c.events <- ev:
			return
		default:
		}
		select {
		case dropped := <-c.events:
			slog.Warn("[BRIDGE] Event queue full, dropping oldest", "partner_id", dropped.PartnerID)
		default:
		}
	}
}

// bridgeError maps sidecar failure codes onto the package sentinels.
func bridgeError(code, message string) error {
	switch code {
	case "password_required":
		return ErrPasswordRequired
	case "code_invalid":
		return ErrCodeInvalid
	case "password_invalid":
		return ErrPasswordInvalid
	}
	if message == "" {
		message = "bridge call failed"
	}
	return fmt.Errorf("bridge: %s", message)
}

func (c *BridgeClient) loadSession() string {
	var f sessionFile
	if _, err := shared.ReadJSONFile(c.sessionPath, &f); err != nil {
		slog.Warn("[BRIDGE] Stored session unreadable", "error", err)
		return ""
	}
	return strings.TrimSpace(f.Session)
}

func (c *BridgeClient) storeSession(session string) {
	if strings.TrimSpace(session) == "" {
		return
	}
	if err := shared.WriteJSONFileAtomic(c.sessionPath, sessionFile{Session: session}); err != nil {
		slog.Warn("[BRIDGE] Failed to persist session", "error", err)
	}
}
