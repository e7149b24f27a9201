package translator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/audio"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/capture"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/hub"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/metrics"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/storage/sqlite"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/translation"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/pkg/logger"
)

const playbackQueueSize = 16

var (
	// ErrClosed is returned by operations on a closed orchestrator
	ErrClosed = errors.New("translator is closed")
	// ErrEmptyText is returned when TranslateText gets blank input
	ErrEmptyText = errors.New("text is required")
	// ErrUnsupportedLanguage is returned for codes outside the reference list
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrSameLanguage is returned when source and target are equal
	ErrSameLanguage = errors.New("source and target languages must differ")
	// ErrHistoryDisabled is returned by History when no store is configured
	ErrHistoryDisabled = errors.New("translation history is disabled")
)

// Capture is the capture state machine the orchestrator drives
type Capture interface {
	OnChunk(h audio.ChunkHandler)
	OnStateChange(h func(capture.State))
	OnError(h func(error))
	StartCapture(ctx context.Context) error
	StopCapture()
	SetContinuousMode(enabled bool) error
	ContinuousMode() bool
	Session() capture.Session
}

// Session is the duplex session the chunks are streamed into
type Session interface {
	Connect(ctx context.Context) error
	JoinSession(ctx context.Context, sessionID string) error
	SendChunk(ctx context.Context, data []byte, sourceLanguage, targetLanguage string) error
	Disconnect(ctx context.Context)
	State() hub.State
	SessionID() string
	OnTranslation(h func(translation.Result)) func()
	OnError(h func(error)) func()
}

// TextTranslator serves the text path
type TextTranslator interface {
	TranslateText(ctx context.Context, req translation.TextRequest) (translation.Result, error)
}

// SpeechService is the rest of the backend request/response surface
type SpeechService interface {
	Voices(ctx context.Context) ([]translation.VoiceInfo, error)
	SpeechToText(ctx context.Context, audio []byte, language string) (string, error)
	TextToSpeech(ctx context.Context, req translation.SpeechRequest) ([]byte, string, error)
}

// HistoryStore persists appended results
type HistoryStore interface {
	Store(entry translation.Entry, sessionID, sourceLanguage, targetLanguage string) (int64, error)
	List(sessionID string, limit int) ([]*sqlite.ResultRecord, error)
}

// Config holds the initial user settings
type Config struct {
	SourceLanguage string
	TargetLanguage string
	AutoPlay       bool
}

// Dependencies are the collaborators of an orchestrator. Player and History
// are optional.
type Dependencies struct {
	Capture    Capture
	Session    Session
	Translator TextTranslator
	Speech     SpeechService
	Player     audio.Player
	History    HistoryStore
	Metrics    *metrics.Metrics
	Clock      clockwork.Clock
}

// Status is a snapshot of the orchestrator for the UI
type Status struct {
	Connected       bool      `json:"connected"`
	SessionID       string    `json:"sessionId,omitempty"`
	ConnectionState string    `json:"connectionState"`
	Recording       bool      `json:"recording"`
	LevelPercent    float64   `json:"levelPercent"`
	LastActivity    time.Time `json:"lastActivity"`
	Processing      bool      `json:"processing"`
	ContinuousMode  bool      `json:"continuousMode"`
	AutoPlay        bool      `json:"autoPlay"`
	SourceLanguage  string    `json:"sourceLanguage"`
	TargetLanguage  string    `json:"targetLanguage"`
	LastError       string    `json:"lastError,omitempty"`
	DroppedChunks   uint64    `json:"droppedChunks"`
	ResultCount     int       `json:"resultCount"`
}

// Orchestrator streams captured chunks into the session, runs the text path
// and keeps the shared result log.
type Orchestrator struct {
	capture    Capture
	session    Session
	translator TextTranslator
	speech     SpeechService
	player     audio.Player
	history    HistoryStore
	metrics    *metrics.Metrics
	clock      clockwork.Clock
	logger     *logger.Logger

	// serializes connect, recording and teardown transitions
	opMu sync.Mutex

	mu             sync.Mutex
	sourceLanguage string
	targetLanguage string
	autoPlay       bool
	results        []translation.Entry
	lastError      string
	inFlight       int
	dropped        uint64
	closed         bool

	unsubscribe []func()

	playQueue  chan []byte
	playCtx    context.Context
	playCancel context.CancelFunc
	playDone   chan struct{}
}

// New creates an orchestrator and subscribes it to capture and session events
func New(config Config, deps Dependencies, log *logger.Logger) (*Orchestrator, error) {
	if err := validateLanguages(config.SourceLanguage, config.TargetLanguage); err != nil {
		return nil, err
	}
	if deps.Capture == nil || deps.Session == nil || deps.Translator == nil {
		return nil, errors.New("capture, session and translator are required")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	playCtx, playCancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		capture:        deps.Capture,
		session:        deps.Session,
		translator:     deps.Translator,
		speech:         deps.Speech,
		player:         deps.Player,
		history:        deps.History,
		metrics:        deps.Metrics,
		clock:          deps.Clock,
		logger:         log.Named("orchestrator"),
		sourceLanguage: config.SourceLanguage,
		targetLanguage: config.TargetLanguage,
		autoPlay:       config.AutoPlay,
		playQueue:      make(chan []byte, playbackQueueSize),
		playCtx:        playCtx,
		playCancel:     playCancel,
		playDone:       make(chan struct{}),
	}

	o.capture.OnChunk(o.handleChunk)
	o.capture.OnStateChange(o.handleCaptureState)
	o.capture.OnError(o.handleCaptureError)
	o.unsubscribe = append(o.unsubscribe,
		o.session.OnTranslation(o.handleTranslation),
		o.session.OnError(o.handleSessionError),
	)

	go o.playbackLoop()

	return o, nil
}

func validateLanguages(source, target string) error {
	if _, ok := translation.LookupLanguage(source); !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedLanguage, source)
	}
	if _, ok := translation.LookupLanguage(target); !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedLanguage, target)
	}
	if source == target {
		return ErrSameLanguage
	}
	return nil
}

// Connect connects to the hub and joins a session. The session id is
// generated on first use and reused when re-joining after a reconnect.
func (o *Orchestrator) Connect(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	if o.isClosed() {
		return ErrClosed
	}
	return o.connectLocked(ctx)
}

func (o *Orchestrator) connectLocked(ctx context.Context) error {
	if o.session.State() == hub.Joined {
		return nil
	}

	if err := o.session.Connect(ctx); err != nil {
		o.metrics.RecordBackendError("connection")
		o.setError(fmt.Errorf("failed to connect to translation service: %w", err))
		return err
	}

	sessionID := o.session.SessionID()
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if err := o.session.JoinSession(ctx, sessionID); err != nil {
		o.metrics.RecordBackendError("connection")
		o.setError(fmt.Errorf("failed to join translation session: %w", err))
		return err
	}

	o.metrics.RecordSessionConnect()
	o.clearError()
	o.logger.Info("Connected to translation session", logger.String("session_id", sessionID))
	return nil
}

// Disconnect leaves the session and closes the connection
func (o *Orchestrator) Disconnect(ctx context.Context) {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.session.Disconnect(ctx)
	o.logger.Info("Disconnected from translation session")
}

// StartRecording connects when needed, then starts capture. A connection
// failure is returned and capture is not started.
func (o *Orchestrator) StartRecording(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	if o.isClosed() {
		return ErrClosed
	}
	if err := o.connectLocked(ctx); err != nil {
		return err
	}

	if err := o.capture.StartCapture(ctx); err != nil {
		o.setError(fmt.Errorf("failed to start recording: %w", err))
		return err
	}
	return nil
}

// StopRecording stops capture and keeps the session open
func (o *Orchestrator) StopRecording() {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.capture.StopCapture()
}

// TranslateText translates text with the current languages and appends the
// result to the log. It does not need a session.
func (o *Orchestrator) TranslateText(ctx context.Context, text string) (translation.Entry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return translation.Entry{}, ErrEmptyText
	}
	if o.isClosed() {
		return translation.Entry{}, ErrClosed
	}

	source, target := o.Languages()

	o.beginWork()
	result, err := o.translator.TranslateText(ctx, translation.TextRequest{
		Text:         text,
		FromLanguage: source,
		ToLanguage:   target,
	})
	o.endWork()

	if err != nil {
		o.metrics.RecordBackendError("text")
		o.setError(fmt.Errorf("failed to translate text: %w", err))
		return translation.Entry{}, err
	}

	return o.appendResult(result, translation.OriginText), nil
}

func (o *Orchestrator) handleChunk(chunk audio.Chunk) {
	o.metrics.RecordChunkCaptured(len(chunk.Data))
	source, target := o.Languages()

	o.beginWork()
	err := o.session.SendChunk(context.Background(), chunk.Data, source, target)
	o.endWork()

	switch {
	case err == nil:
		o.metrics.RecordChunkSent()
	case errors.Is(err, hub.ErrNotInSession):
		o.mu.Lock()
		o.dropped++
		o.mu.Unlock()
		o.metrics.RecordChunkDropped()
		o.logger.Debug("Dropped chunk without a joined session",
			logger.Int("seq", chunk.Seq),
			logger.Bool("final", chunk.Final))
	default:
		o.metrics.RecordChunkSendFailure()
		o.logger.Warn("Failed to send audio chunk",
			logger.Int("seq", chunk.Seq),
			logger.Error(err))
		o.setError(fmt.Errorf("failed to process audio chunk: %w", err))
	}
}

func (o *Orchestrator) handleCaptureState(state capture.State) {
	o.metrics.SetRecording(state == capture.Recording)
}

func (o *Orchestrator) handleCaptureError(err error) {
	o.setError(fmt.Errorf("recording stopped: %w", err))
}

func (o *Orchestrator) handleTranslation(result translation.Result) {
	o.appendResult(result, translation.OriginStream)
}

func (o *Orchestrator) handleSessionError(err error) {
	var backendErr *hub.BackendError
	switch {
	case errors.As(err, &backendErr):
		o.metrics.RecordBackendError("pushed")
	case errors.Is(err, hub.ErrConnectionLost):
		o.metrics.RecordBackendError("connection")
	default:
		o.metrics.RecordBackendError("session")
	}
	o.setError(err)
}

func (o *Orchestrator) appendResult(result translation.Result, origin translation.Origin) translation.Entry {
	entry := translation.Entry{
		Result:     result,
		Origin:     origin,
		ReceivedAt: o.clock.Now(),
	}

	o.mu.Lock()
	o.results = append(o.results, entry)
	source, target, autoPlay := o.sourceLanguage, o.targetLanguage, o.autoPlay
	o.mu.Unlock()

	o.metrics.RecordResult(string(origin))

	if o.history != nil {
		if _, err := o.history.Store(entry, o.session.SessionID(), source, target); err != nil {
			o.logger.Warn("Failed to persist translation result", logger.Error(err))
		}
	}

	if autoPlay && origin == translation.OriginStream && result.HasAudio() {
		o.enqueuePlayback(result.TranslatedAudio)
	}
	return entry
}

func (o *Orchestrator) enqueuePlayback(encoded string) {
	if o.player == nil {
		return
	}
	clip, err := audio.DecodeClip(encoded)
	if err != nil {
		o.logger.Warn("Skipping undecodable translated audio", logger.Error(err))
		return
	}

	select {
	case o.playQueue <- clip:
	default:
		o.logger.Warn("Playback queue full, skipping clip", logger.Int("bytes", len(clip)))
	}
}

// playbackLoop plays clips one at a time in arrival order
func (o *Orchestrator) playbackLoop() {
	defer close(o.playDone)
	for {
		select {
		case <-o.playCtx.Done():
			return
		case clip := <-o.playQueue:
			if err := o.player.Play(o.playCtx, clip); err != nil && o.playCtx.Err() == nil {
				o.logger.Warn("Failed to play translated audio", logger.Error(err))
			}
		}
	}
}

// Results returns a copy of the result log in arrival order
func (o *Orchestrator) Results() []translation.Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]translation.Entry, len(o.results))
	copy(out, o.results)
	return out
}

// ClearResults empties the result log
func (o *Orchestrator) ClearResults() {
	o.mu.Lock()
	n := len(o.results)
	o.results = nil
	o.mu.Unlock()

	o.logger.Debug("Cleared results", logger.Int("count", n))
}

// Languages returns the current source and target language codes
func (o *Orchestrator) Languages() (string, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sourceLanguage, o.targetLanguage
}

// SetLanguages changes the language pair. Chunks produced afterwards use the new pair.
func (o *Orchestrator) SetLanguages(source, target string) error {
	if err := validateLanguages(source, target); err != nil {
		return err
	}

	o.mu.Lock()
	o.sourceLanguage, o.targetLanguage = source, target
	o.mu.Unlock()

	o.logger.Info("Languages changed",
		logger.String("source", source),
		logger.String("target", target))
	return nil
}

// SwapLanguages exchanges source and target
func (o *Orchestrator) SwapLanguages() (string, string) {
	o.mu.Lock()
	o.sourceLanguage, o.targetLanguage = o.targetLanguage, o.sourceLanguage
	source, target := o.sourceLanguage, o.targetLanguage
	o.mu.Unlock()

	o.logger.Info("Languages swapped",
		logger.String("source", source),
		logger.String("target", target))
	return source, target
}

// SetAutoPlay toggles playback of translated audio on arrival
func (o *Orchestrator) SetAutoPlay(enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.autoPlay = enabled
}

// SetContinuousMode toggles stop on silence. Fails with capture.ErrBusy while recording.
func (o *Orchestrator) SetContinuousMode(enabled bool) error {
	return o.capture.SetContinuousMode(enabled)
}

// Status returns a snapshot of the connection, capture and log state
func (o *Orchestrator) Status() Status {
	state := o.session.State()
	sessionID := o.session.SessionID()
	capSession := o.capture.Session()
	continuous := o.capture.ContinuousMode()

	o.mu.Lock()
	defer o.mu.Unlock()

	return Status{
		Connected:       state == hub.Joined,
		SessionID:       sessionID,
		ConnectionState: state.String(),
		Recording:       capSession.Active,
		LevelPercent:    capSession.LevelPercent,
		LastActivity:    capSession.LastActivity,
		Processing:      o.inFlight > 0,
		ContinuousMode:  continuous,
		AutoPlay:        o.autoPlay,
		SourceLanguage:  o.sourceLanguage,
		TargetLanguage:  o.targetLanguage,
		LastError:       o.lastError,
		DroppedChunks:   o.dropped,
		ResultCount:     len(o.results),
	}
}

// Voices lists the backend synthesis voices
func (o *Orchestrator) Voices(ctx context.Context) ([]translation.VoiceInfo, error) {
	if o.speech == nil {
		return nil, errors.New("speech service is not configured")
	}
	return o.speech.Voices(ctx)
}

// SpeechToText recognizes a recorded clip. An empty language means the source language.
func (o *Orchestrator) SpeechToText(ctx context.Context, clip []byte, language string) (string, error) {
	if o.speech == nil {
		return "", errors.New("speech service is not configured")
	}
	if language == "" {
		language, _ = o.Languages()
	}
	return o.speech.SpeechToText(ctx, clip, language)
}

// TextToSpeech synthesizes text. An empty language means the target language
// and an empty voice means the language's first reference voice.
func (o *Orchestrator) TextToSpeech(ctx context.Context, req translation.SpeechRequest) ([]byte, string, error) {
	if o.speech == nil {
		return nil, "", errors.New("speech service is not configured")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, "", ErrEmptyText
	}
	if req.Language == "" {
		_, req.Language = o.Languages()
	}
	if req.VoiceName == "" {
		req.VoiceName = translation.DefaultVoice(req.Language)
	}
	return o.speech.TextToSpeech(ctx, req)
}

// History returns persisted results, newest first
func (o *Orchestrator) History(sessionID string, limit int) ([]*sqlite.ResultRecord, error) {
	if o.history == nil {
		return nil, ErrHistoryDisabled
	}
	return o.history.List(sessionID, limit)
}

// Close stops capture, disconnects the session and stops playback. The
// final chunk of an active recording is sent before the session is left.
func (o *Orchestrator) Close(ctx context.Context) {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.capture.StopCapture()
	o.session.Disconnect(ctx)

	for _, unsubscribe := range o.unsubscribe {
		unsubscribe()
	}

	o.playCancel()
	<-o.playDone

	o.logger.Info("Translator closed")
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *Orchestrator) beginWork() {
	o.mu.Lock()
	o.inFlight++
	o.mu.Unlock()
}

func (o *Orchestrator) endWork() {
	o.mu.Lock()
	o.inFlight--
	o.mu.Unlock()
}

// setError replaces the user-visible error; the last one wins
func (o *Orchestrator) setError(err error) {
	o.mu.Lock()
	o.lastError = err.Error()
	o.mu.Unlock()
	o.logger.Warn("Translator error", logger.Error(err))
}

func (o *Orchestrator) clearError() {
	o.mu.Lock()
	o.lastError = ""
	o.mu.Unlock()
}
