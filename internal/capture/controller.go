package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/audio"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/pkg/logger"
)

// ErrBusy is returned when a setting that requires Idle is changed while recording
var ErrBusy = errors.New("capture is recording")

// State is the capture state machine position
type State int

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	default:
		return "unknown"
	}
}

// Recorder is the segment recorder the controller drives
type Recorder interface {
	Start(ctx context.Context, handler audio.ChunkHandler, onLost audio.LostHandler) error
	Stop()
}

// Monitor is the level monitor the controller drives
type Monitor interface {
	Start(silenceTimeout time.Duration, onSilence func())
	Stop()
	Level() float64
	LastActivity() time.Time
}

// Config holds the stop policy
type Config struct {
	SilenceTimeout time.Duration // zero disables the implicit stop
	ContinuousMode bool
}

// Session is a snapshot of the current recording attempt
type Session struct {
	Active       bool      `json:"active"`
	LevelPercent float64   `json:"levelPercent"`
	LastActivity time.Time `json:"lastActivity"`
}

// Controller combines the recorder and the level monitor into one start/stop
// state machine with an optional stop after silence.
type Controller struct {
	recorder Recorder
	monitor  Monitor
	logger   *logger.Logger

	// serializes transitions
	lifecycle sync.Mutex

	mu             sync.Mutex
	state          State
	silenceTimeout time.Duration
	continuous     bool
	generation     uint64
	chunkHandlers  []audio.ChunkHandler
	stateHandlers  []func(State)
	errorHandlers  []func(error)
}

// NewController creates an idle controller
func NewController(recorder Recorder, monitor Monitor, config Config, log *logger.Logger) *Controller {
	return &Controller{
		recorder:       recorder,
		monitor:        monitor,
		logger:         log.Named("capture"),
		silenceTimeout: config.SilenceTimeout,
		continuous:     config.ContinuousMode,
	}
}

// OnChunk registers a chunk listener. Listeners run in capture order on the
// recorder's goroutine and must not call back into the controller.
func (c *Controller) OnChunk(h audio.ChunkHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunkHandlers = append(c.chunkHandlers, h)
}

// OnStateChange registers a listener for Idle/Recording transitions
func (c *Controller) OnStateChange(h func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateHandlers = append(c.stateHandlers, h)
}

// OnError registers a listener for failures that end a recording on their
// own, such as losing the capture device. It runs before the Idle notification.
func (c *Controller) OnError(h func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorHandlers = append(c.errorHandlers, h)
}

// StartCapture moves to Recording. An active recording is stopped first.
func (c *Controller) StartCapture(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.State() == Recording {
		c.stopLocked("restart")
	}

	c.mu.Lock()
	gen := c.generation + 1
	c.mu.Unlock()

	onLost := func(err error) { c.deviceLost(gen, err) }
	if err := c.recorder.Start(ctx, c.dispatch, onLost); err != nil {
		c.logger.Error("Failed to start recorder", logger.Error(err))
		return err
	}

	c.mu.Lock()
	c.generation = gen
	timeout := c.silenceTimeout
	if c.continuous {
		timeout = 0
	}
	c.state = Recording
	c.mu.Unlock()

	c.monitor.Start(timeout, func() { c.silenceExpired(gen) })

	c.logger.Info("Capture started",
		logger.Duration("silence_timeout", timeout),
		logger.Bool("continuous_mode", timeout == 0))
	c.notify(Recording)
	return nil
}

// StopCapture moves to Idle. Calling it while Idle is harmless.
func (c *Controller) StopCapture() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.State() == Idle {
		return
	}
	c.stopLocked("explicit")
}

func (c *Controller) silenceExpired(gen uint64) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	current := c.generation == gen && c.state == Recording
	c.mu.Unlock()
	if !current {
		return
	}
	c.stopLocked("silence")
}

func (c *Controller) deviceLost(gen uint64, err error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	current := c.generation == gen && c.state == Recording
	handlers := make([]func(error), len(c.errorHandlers))
	copy(handlers, c.errorHandlers)
	c.mu.Unlock()
	if !current {
		return
	}

	c.logger.Error("Capture device lost", logger.Error(err))
	for _, h := range handlers {
		h(err)
	}
	c.stopLocked("device lost")
}

func (c *Controller) stopLocked(reason string) {
	c.monitor.Stop()
	c.recorder.Stop()

	c.mu.Lock()
	c.state = Idle
	c.generation++
	c.mu.Unlock()

	c.logger.Info("Capture stopped", logger.String("reason", reason))
	c.notify(Idle)
}

func (c *Controller) dispatch(chunk audio.Chunk) {
	c.mu.Lock()
	handlers := make([]audio.ChunkHandler, len(c.chunkHandlers))
	copy(handlers, c.chunkHandlers)
	c.mu.Unlock()

	for _, h := range handlers {
		h(chunk)
	}
}

func (c *Controller) notify(state State) {
	c.mu.Lock()
	handlers := make([]func(State), len(c.stateHandlers))
	copy(handlers, c.stateHandlers)
	c.mu.Unlock()

	for _, h := range handlers {
		h(state)
	}
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetContinuousMode toggles the implicit stop. Only allowed while Idle.
func (c *Controller) SetContinuousMode(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Idle {
		return ErrBusy
	}
	c.continuous = enabled
	return nil
}

// ContinuousMode reports whether the implicit stop is disabled
func (c *Controller) ContinuousMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.continuous
}

// Session returns the current capture session snapshot
func (c *Controller) Session() Session {
	active := c.State() == Recording
	s := Session{Active: active}
	if active {
		s.LevelPercent = c.monitor.Level()
		s.LastActivity = c.monitor.LastActivity()
	}
	return s
}
