package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/Stefanpicciani/Realtime-Translator-Conversation/pkg/logger"
)

const writeTimeout = 10 * time.Second

// ConnectionConfig holds transport settings
type ConnectionConfig struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	KeepAlive        time.Duration   // ping interval; zero disables pings
	ServerTimeout    time.Duration   // silence allowed from the server; zero disables
	InvokeTimeout    time.Duration   // zero waits for the caller's context only
	ReconnectDelays  []time.Duration // empty disables automatic reconnect
}

// DefaultReconnectDelays is the automatic reconnect schedule
var DefaultReconnectDelays = []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second}

// NewDialer creates a websocket dialer sharing the given cookie jar
func NewDialer(jar http.CookieJar, handshakeTimeout time.Duration) *websocket.Dialer {
	return &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		Jar:              jar,
	}
}

type pendingCall struct {
	target string
	ch     chan completion
}

type completion struct {
	result json.RawMessage
	err    error
}

// Connection is one logical hub connection. The underlying websocket is
// replaced transparently when the link drops, following ReconnectDelays.
type Connection struct {
	config ConnectionConfig
	dialer *websocket.Dialer
	clock  clockwork.Clock
	logger *logger.Logger

	writeMu sync.Mutex

	mu           sync.Mutex
	ws           *websocket.Conn
	linkDone     chan struct{}
	stopped      bool
	stopCh       chan struct{}
	stopOnce     sync.Once
	pending      map[string]pendingCall
	nextID       uint64
	handlers     map[string]func([]json.RawMessage)
	reconnecting []func(error)
	reconnected  []func()
	closed       []func(error)

	loops sync.WaitGroup
}

// NewConnection creates a connection that is not yet started
func NewConnection(config ConnectionConfig, dialer *websocket.Dialer, clock clockwork.Clock, log *logger.Logger) *Connection {
	if dialer == nil {
		dialer = NewDialer(nil, config.HandshakeTimeout)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 15 * time.Second
	}
	return &Connection{
		config:   config,
		dialer:   dialer,
		clock:    clock,
		logger:   log.Named("hub-conn"),
		stopCh:   make(chan struct{}),
		pending:  make(map[string]pendingCall),
		handlers: make(map[string]func([]json.RawMessage)),
	}
}

// On registers the handler for an inbound invocation target
func (c *Connection) On(target string, handler func(args []json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[target] = handler
}

// OnReconnecting registers a listener called when the link drops and a reconnect begins
func (c *Connection) OnReconnecting(h func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnecting = append(c.reconnecting, h)
}

// OnReconnected registers a listener called after a successful reconnect
func (c *Connection) OnReconnected(h func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnected = append(c.reconnected, h)
}

// OnClosed registers a listener called once the connection is closed for
// good. The error is nil after Stop.
func (c *Connection) OnClosed(h func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, h)
}

// Start dials the hub and completes the protocol handshake
func (c *Connection) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	if c.ws != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ws, leftover, err := c.dial(ctx)
	if err != nil {
		return err
	}
	if !c.install(ws, leftover) {
		ws.Close()
		return ErrConnectionClosed
	}

	c.logger.Info("Hub connection established", logger.String("url", c.config.URL))
	return nil
}

func toWebSocketURL(raw string) string {
	switch {
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://")
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://")
	default:
		return raw
	}
}

func (c *Connection) dial(ctx context.Context) (*websocket.Conn, [][]byte, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.config.HandshakeTimeout)
	defer cancel()

	ws, resp, err := c.dialer.DialContext(dialCtx, toWebSocketURL(c.config.URL), c.config.Header)
	if err != nil {
		if resp != nil {
			return nil, nil, fmt.Errorf("failed to dial hub (status %d): %w", resp.StatusCode, err)
		}
		return nil, nil, fmt.Errorf("failed to dial hub: %w", err)
	}

	frame, err := encodeFrame(handshakeRequest{Protocol: "json", Version: 1})
	if err != nil {
		ws.Close()
		return nil, nil, err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(c.config.HandshakeTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		ws.Close()
		return nil, nil, fmt.Errorf("failed to send handshake: %w", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(c.config.HandshakeTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return nil, nil, fmt.Errorf("failed to read handshake response: %w", err)
	}
	frames := splitFrames(data)
	if len(frames) == 0 {
		ws.Close()
		return nil, nil, errors.New("empty handshake response")
	}

	var hs handshakeResponse
	if err := json.Unmarshal(frames[0], &hs); err != nil {
		ws.Close()
		return nil, nil, fmt.Errorf("invalid handshake response: %w", err)
	}
	if hs.Error != "" {
		ws.Close()
		return nil, nil, fmt.Errorf("handshake rejected: %s", hs.Error)
	}
	_ = ws.SetReadDeadline(time.Time{})

	return ws, frames[1:], nil
}

// install makes ws the active link and starts its loops. It refuses once stopped.
func (c *Connection) install(ws *websocket.Conn, leftover [][]byte) bool {
	done := make(chan struct{})

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return false
	}
	c.ws = ws
	c.linkDone = done
	c.loops.Add(2)
	c.mu.Unlock()

	go c.readLoop(ws, leftover)
	go c.keepAlive(ws, done)
	return true
}

func (c *Connection) readLoop(ws *websocket.Conn, leftover [][]byte) {
	defer c.loops.Done()

	if !c.handleFrames(ws, leftover) {
		return
	}

	for {
		if c.config.ServerTimeout > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(c.config.ServerTimeout))
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.linkLost(ws, err, true)
			return
		}
		if !c.handleFrames(ws, splitFrames(data)) {
			return
		}
	}
}

// handleFrames processes records in order and reports whether the link is still usable
func (c *Connection) handleFrames(ws *websocket.Conn, frames [][]byte) bool {
	for _, frame := range frames {
		if err := c.handleFrame(frame); err != nil {
			var ce *closeError
			allow := errors.As(err, &ce) && ce.allowReconnect
			c.linkLost(ws, err, allow)
			return false
		}
	}
	return true
}

type closeError struct {
	message        string
	allowReconnect bool
}

func (e *closeError) Error() string {
	if e.message == "" {
		return "server closed the connection"
	}
	return "server closed the connection: " + e.message
}

func (c *Connection) handleFrame(frame []byte) error {
	env, err := decodeEnvelope(frame)
	if err != nil {
		c.logger.Warn("Dropping malformed hub message", logger.Error(err))
		return nil
	}

	switch env.Type {
	case InvocationMessage:
		c.mu.Lock()
		handler := c.handlers[env.Target]
		c.mu.Unlock()
		if handler == nil {
			c.logger.Debug("No handler for hub invocation", logger.String("target", env.Target))
			return nil
		}
		handler(env.Arguments)

	case CompletionMessage:
		c.mu.Lock()
		call, ok := c.pending[env.InvocationID]
		delete(c.pending, env.InvocationID)
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("Completion for unknown invocation", logger.String("invocation_id", env.InvocationID))
			return nil
		}
		res := completion{result: env.Result}
		if env.Error != "" {
			res.err = &InvocationError{Target: call.target, Message: env.Error}
		}
		call.ch <- res

	case PingMessage:

	case CloseMessage:
		return &closeError{message: env.Error, allowReconnect: env.AllowReconnect}

	default:
		c.logger.Debug("Ignoring hub message", logger.Int("type", int(env.Type)))
	}
	return nil
}

func (c *Connection) keepAlive(ws *websocket.Conn, done chan struct{}) {
	defer c.loops.Done()

	if c.config.KeepAlive <= 0 {
		<-done
		return
	}

	ticker := c.clock.NewTicker(c.config.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.Chan():
			if err := c.write(ws, ping{Type: PingMessage}); err != nil {
				c.logger.Debug("Failed to send ping", logger.Error(err))
			}
		}
	}
}

func (c *Connection) write(ws *websocket.Conn, v interface{}) error {
	frame, err := encodeFrame(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("failed to write hub message: %w", err)
	}
	return nil
}

func (c *Connection) failPending(pending map[string]pendingCall, err error) {
	for _, call := range pending {
		call.ch <- completion{err: err}
	}
}

// linkLost tears down a dropped link and starts reconnecting when allowed
func (c *Connection) linkLost(ws *websocket.Conn, cause error, allowReconnect bool) {
	c.mu.Lock()
	if c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	close(c.linkDone)
	pending := c.pending
	c.pending = make(map[string]pendingCall)
	reconnect := allowReconnect && len(c.config.ReconnectDelays) > 0
	listeners := append([]func(error){}, c.reconnecting...)
	if reconnect {
		c.loops.Add(1)
	}
	c.mu.Unlock()

	ws.Close()
	c.failPending(pending, ErrConnectionLost)

	if !reconnect {
		c.logger.Warn("Hub connection lost", logger.Error(cause))
		c.finish(cause)
		return
	}

	c.logger.Warn("Hub connection lost, reconnecting", logger.Error(cause))
	for _, h := range listeners {
		h(cause)
	}
	go c.reconnect(cause)
}

func (c *Connection) reconnect(cause error) {
	defer c.loops.Done()

	lastErr := cause
	for attempt, delay := range c.config.ReconnectDelays {
		select {
		case <-c.clock.After(delay):
		case <-c.stopCh:
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-c.stopCh:
				cancel()
			case <-ctx.Done():
			}
		}()
		ws, leftover, err := c.dial(ctx)
		cancel()
		if err != nil {
			lastErr = err
			c.logger.Warn("Reconnect attempt failed",
				logger.Int("attempt", attempt+1),
				logger.Error(err))
			continue
		}

		if !c.install(ws, leftover) {
			ws.Close()
			return
		}

		c.mu.Lock()
		listeners := append([]func(){}, c.reconnected...)
		c.mu.Unlock()

		c.logger.Info("Hub connection re-established", logger.Int("attempt", attempt+1))
		for _, h := range listeners {
			h()
		}
		return
	}

	c.finish(fmt.Errorf("reconnect gave up after %d attempts: %w", len(c.config.ReconnectDelays), lastErr))
}

// finish closes the connection for good and notifies listeners once
func (c *Connection) finish(cause error) {
	first := false
	c.stopOnce.Do(func() {
		first = true
		c.mu.Lock()
		c.stopped = true
		close(c.stopCh)
		c.mu.Unlock()
	})
	if !first {
		return
	}

	c.mu.Lock()
	listeners := append([]func(error){}, c.closed...)
	c.mu.Unlock()
	for _, h := range listeners {
		h(cause)
	}
}

// Invoke calls a hub method and waits for its completion
func (c *Connection) Invoke(ctx context.Context, target string, args ...interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	if c.ws == nil {
		stopped := c.stopped
		c.mu.Unlock()
		if stopped {
			return nil, ErrConnectionClosed
		}
		return nil, ErrConnectionLost
	}
	c.nextID++
	id := strconv.FormatUint(c.nextID, 10)
	ch := make(chan completion, 1)
	c.pending[id] = pendingCall{target: target, ch: ch}
	ws := c.ws
	c.mu.Unlock()

	if args == nil {
		args = []interface{}{}
	}
	msg := invocation{
		Type:         InvocationMessage,
		InvocationID: id,
		Target:       target,
		Arguments:    args,
	}
	if err := c.write(ws, msg); err != nil {
		c.forget(id)
		return nil, err
	}

	if c.config.InvokeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.InvokeTimeout)
		defer cancel()
	}

	select {
	case res := <-ch:
		return res.result, res.err
	case <-ctx.Done():
		c.forget(id)
		return nil, fmt.Errorf("%s: %w", target, ctx.Err())
	}
}

func (c *Connection) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// Stop closes the connection for good and waits for its goroutines to exit
func (c *Connection) Stop(ctx context.Context) error {
	var ws *websocket.Conn
	var pending map[string]pendingCall
	first := false

	c.stopOnce.Do(func() {
		first = true
		c.mu.Lock()
		c.stopped = true
		close(c.stopCh)
		ws = c.ws
		c.ws = nil
		if ws != nil {
			close(c.linkDone)
		}
		pending = c.pending
		c.pending = make(map[string]pendingCall)
		c.mu.Unlock()
	})
	if !first {
		return nil
	}

	var closeErr error
	if ws != nil {
		_ = c.write(ws, closeMsg{Type: CloseMessage})
		c.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		closeErr = ws.Close()
	}
	c.failPending(pending, ErrConnectionClosed)

	waited := make(chan struct{})
	go func() {
		c.loops.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	listeners := append([]func(error){}, c.closed...)
	c.mu.Unlock()
	for _, h := range listeners {
		h(nil)
	}

	c.logger.Info("Hub connection stopped")
	if closeErr != nil {
		return fmt.Errorf("failed to close hub connection: %w", closeErr)
	}
	return nil
}
