package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/translation"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/pkg/logger"
)

// State is the session connection state
type State int

const (
	Disconnected State = iota
	Connecting
	Connected // transport up, no session joined
	Joined
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Joined:
		return "joined"
	default:
		return "unknown"
	}
}

// ClientConfig holds session client settings
type ClientConfig struct {
	Connection        ConnectionConfig
	RejoinOnReconnect bool
}

// Client owns one hub connection and at most one joined session
type Client struct {
	config ClientConfig
	dialer *websocket.Dialer
	clock  clockwork.Clock
	logger *logger.Logger
	events *Events

	// serializes Connect and Disconnect
	opMu sync.Mutex

	mu        sync.Mutex
	conn      *Connection
	state     State
	sessionID string
}

// NewClient creates a disconnected client
func NewClient(config ClientConfig, dialer *websocket.Dialer, clock clockwork.Clock, log *logger.Logger) *Client {
	return &Client{
		config: config,
		dialer: dialer,
		clock:  clock,
		logger: log.Named("hub-client"),
		events: NewEvents(),
	}
}

// Events returns the client's event subscriptions
func (c *Client) Events() *Events {
	return c.events
}

// State returns the current connection state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the joined (or last joined, when not re-joined) session id
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// OnTranslation subscribes to translation results pushed by the backend
func (c *Client) OnTranslation(h func(translation.Result)) func() {
	return c.events.OnTranslation(h)
}

// OnError subscribes to backend and connection errors
func (c *Client) OnError(h func(error)) func() {
	return c.events.OnError(h)
}

// OnStateChange subscribes to connection state transitions
func (c *Client) OnStateChange(h func(State)) func() {
	return c.events.OnStateChange(h)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = s
	c.mu.Unlock()

	c.logger.Debug("Connection state changed",
		logger.String("from", prev.String()),
		logger.String("to", s.String()))
	c.events.publish(topicState, s)
}

// Connect establishes the transport. Connecting an already connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	connected := c.conn != nil
	c.mu.Unlock()
	if connected {
		return nil
	}

	c.setState(Connecting)

	conn := NewConnection(c.config.Connection, c.dialer, c.clock, c.logger)
	conn.On(EventReceiveTranslation, c.handleTranslation)
	conn.On(EventTranslationError, c.handleBackendError)
	conn.OnReconnecting(func(err error) { c.handleReconnecting(conn, err) })
	conn.OnReconnected(func() { c.handleReconnected(conn) })
	conn.OnClosed(func(err error) { c.handleClosed(conn, err) })

	if err := conn.Start(ctx); err != nil {
		c.setState(Disconnected)
		c.logger.Error("Failed to connect to hub", logger.Error(err))
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(Connected)
	return nil
}

func (c *Client) handleTranslation(args []json.RawMessage) {
	if len(args) == 0 {
		c.logger.Warn("ReceiveTranslation without arguments")
		return
	}
	var result translation.Result
	if err := json.Unmarshal(args[0], &result); err != nil {
		c.logger.Warn("Failed to decode translation result", logger.Error(err))
		return
	}
	c.logger.Debug("Translation received",
		logger.Int("original_len", len(result.OriginalText)),
		logger.Bool("has_audio", result.HasAudio()))
	c.events.publish(topicTranslation, result)
}

func (c *Client) handleBackendError(args []json.RawMessage) {
	msg := "unknown error"
	if len(args) > 0 {
		var s string
		if err := json.Unmarshal(args[0], &s); err == nil {
			msg = s
		} else {
			msg = string(args[0])
		}
	}
	c.logger.Warn("Backend reported an error", logger.String("message", msg))
	c.events.publish(topicError, &BackendError{Message: msg})
}

func (c *Client) current(conn *Connection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == conn
}

func (c *Client) handleReconnecting(conn *Connection, err error) {
	if !c.current(conn) {
		return
	}
	c.setState(Connecting)
}

func (c *Client) handleReconnected(conn *Connection) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	id := c.sessionID
	c.mu.Unlock()

	if id == "" || !c.config.RejoinOnReconnect {
		if id != "" {
			c.logger.Info("Reconnected without re-joining session", logger.String("session_id", id))
		}
		c.setState(Connected)
		return
	}

	timeout := c.config.Connection.InvokeTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, err := conn.Invoke(ctx, MethodJoinSession, id)
	if !c.current(conn) {
		c.logger.Debug("Connection replaced during re-join", logger.String("session_id", id))
		return
	}
	if err != nil {
		c.logger.Error("Failed to re-join session after reconnect",
			logger.String("session_id", id),
			logger.Error(err))
		c.setState(Connected)
		c.events.publish(topicError, fmt.Errorf("%w: re-join session %s: %v", ErrTransmissionFailed, id, err))
		return
	}

	c.logger.Info("Re-joined session after reconnect", logger.String("session_id", id))
	c.setState(Joined)
}

func (c *Client) handleClosed(conn *Connection, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.sessionID = ""
	c.mu.Unlock()

	c.setState(Disconnected)
	if err != nil {
		c.events.publish(topicError, fmt.Errorf("%w: %v", ErrConnectionLost, err))
	}
}

// JoinSession joins the session with the given id. Joining twice issues two
// join invocations; avoiding that is up to the caller.
func (c *Client) JoinSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotInitialized
	}
	if sessionID == "" {
		return errors.New("session id is required")
	}

	if _, err := conn.Invoke(ctx, MethodJoinSession, sessionID); err != nil {
		return fmt.Errorf("%w: join session %s: %v", ErrTransmissionFailed, sessionID, err)
	}

	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()
	c.setState(Joined)

	c.logger.Info("Joined session", logger.String("session_id", sessionID))
	return nil
}

// LeaveSession leaves the joined session. Local state is cleared even when
// the leave invocation fails.
func (c *Client) LeaveSession(ctx context.Context) error {
	c.mu.Lock()
	conn, id := c.conn, c.sessionID
	c.mu.Unlock()

	if conn == nil || id == "" {
		return nil
	}

	_, err := conn.Invoke(ctx, MethodLeaveSession, id)

	c.mu.Lock()
	if c.sessionID == id {
		c.sessionID = ""
	}
	joined := c.state == Joined
	c.mu.Unlock()
	if joined {
		c.setState(Connected)
	}

	if err != nil {
		return fmt.Errorf("%w: leave session %s: %v", ErrTransmissionFailed, id, err)
	}
	c.logger.Info("Left session", logger.String("session_id", id))
	return nil
}

// SendChunk streams one audio chunk into the joined session. The translation
// arrives later through the translation event.
func (c *Client) SendChunk(ctx context.Context, data []byte, sourceLanguage, targetLanguage string) error {
	c.mu.Lock()
	conn, id, state := c.conn, c.sessionID, c.state
	c.mu.Unlock()

	if state != Joined || conn == nil {
		return ErrNotInSession
	}

	if _, err := conn.Invoke(ctx, MethodSendAudioChunk, data, id, sourceLanguage, targetLanguage); err != nil {
		return fmt.Errorf("%w: %v", ErrTransmissionFailed, err)
	}
	return nil
}

// Disconnect leaves the session if joined and closes the transport. It always
// ends Disconnected; cleanup failures are logged.
func (c *Client) Disconnect(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.setState(Disconnected)
		return
	}

	if err := c.LeaveSession(ctx); err != nil {
		c.logger.Warn("Failed to leave session during disconnect", logger.Error(err))
	}

	c.mu.Lock()
	c.conn = nil
	c.sessionID = ""
	c.mu.Unlock()

	if err := conn.Stop(ctx); err != nil {
		c.logger.Warn("Failed to stop hub connection", logger.Error(err))
	}
	c.setState(Disconnected)
	c.logger.Info("Disconnected from hub")
}
