package translator

import (
	"context"
	"fmt"
	"sync"

	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/audio"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/capture"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/hub"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/translation"
)

type fakeCapture struct {
	mu            sync.Mutex
	chunkHandlers []audio.ChunkHandler
	stateHandlers []func(capture.State)
	errHandlers   []func(error)
	recording     bool
	continuous    bool
	level         float64
	starts        int
	stops         int
	startErr      error
	onStart       func()
}

func (f *fakeCapture) OnChunk(h audio.ChunkHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunkHandlers = append(f.chunkHandlers, h)
}

func (f *fakeCapture) OnStateChange(h func(capture.State)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateHandlers = append(f.stateHandlers, h)
}

func (f *fakeCapture) OnError(h func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errHandlers = append(f.errHandlers, h)
}

// loseDevice ends the recording the way the controller does when the device fails
func (f *fakeCapture) loseDevice(err error) {
	f.mu.Lock()
	handlers := append([]func(error){}, f.errHandlers...)
	f.recording = false
	f.mu.Unlock()

	for _, h := range handlers {
		h(err)
	}
	f.emit(audio.Chunk{Seq: 99, Data: []byte("final"), Final: true})
	f.notify(capture.Idle)
}

func (f *fakeCapture) StartCapture(ctx context.Context) error {
	f.mu.Lock()
	if f.startErr != nil {
		f.mu.Unlock()
		return f.startErr
	}
	if f.onStart != nil {
		f.onStart()
	}
	f.recording = true
	f.starts++
	f.mu.Unlock()

	f.notify(capture.Recording)
	return nil
}

func (f *fakeCapture) StopCapture() {
	f.mu.Lock()
	if !f.recording {
		f.mu.Unlock()
		return
	}
	f.recording = false
	f.stops++
	f.mu.Unlock()

	f.emit(audio.Chunk{Seq: 99, Data: []byte("final"), Final: true})
	f.notify(capture.Idle)
}

func (f *fakeCapture) SetContinuousMode(enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recording {
		return capture.ErrBusy
	}
	f.continuous = enabled
	return nil
}

func (f *fakeCapture) ContinuousMode() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.continuous
}

func (f *fakeCapture) Session() capture.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.recording {
		return capture.Session{}
	}
	return capture.Session{Active: true, LevelPercent: f.level}
}

func (f *fakeCapture) isRecording() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recording
}

func (f *fakeCapture) emit(chunk audio.Chunk) {
	f.mu.Lock()
	handlers := append([]audio.ChunkHandler{}, f.chunkHandlers...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(chunk)
	}
}

func (f *fakeCapture) notify(state capture.State) {
	f.mu.Lock()
	handlers := append([]func(capture.State){}, f.stateHandlers...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(state)
	}
}

type sentChunk struct {
	data      []byte
	sessionID string
	source    string
	target    string
}

type fakeSession struct {
	mu          sync.Mutex
	state       hub.State
	sessionID   string
	connectErr  error
	joinErr     error
	sendErr     error
	connects    int
	joined      []string
	disconnects int
	sent        []sentChunk

	seq          int
	translations map[int]func(translation.Result)
	errs         map[int]func(error)
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		translations: make(map[int]func(translation.Result)),
		errs:         make(map[int]func(error)),
	}
}

func (f *fakeSession) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return fmt.Errorf("%w: %v", hub.ErrConnectionFailed, f.connectErr)
	}
	if f.state == hub.Disconnected {
		f.state = hub.Connected
	}
	return nil
}

func (f *fakeSession) JoinSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == hub.Disconnected {
		return hub.ErrNotInitialized
	}
	if f.joinErr != nil {
		return fmt.Errorf("%w: %v", hub.ErrTransmissionFailed, f.joinErr)
	}
	f.joined = append(f.joined, sessionID)
	f.sessionID = sessionID
	f.state = hub.Joined
	return nil
}

func (f *fakeSession) SendChunk(ctx context.Context, data []byte, sourceLanguage, targetLanguage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != hub.Joined {
		return hub.ErrNotInSession
	}
	if f.sendErr != nil {
		return fmt.Errorf("%w: %v", hub.ErrTransmissionFailed, f.sendErr)
	}
	f.sent = append(f.sent, sentChunk{data: data, sessionID: f.sessionID, source: sourceLanguage, target: targetLanguage})
	return nil
}

func (f *fakeSession) Disconnect(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.state = hub.Disconnected
	f.sessionID = ""
}

func (f *fakeSession) State() hub.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) SessionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionID
}

func (f *fakeSession) OnTranslation(h func(translation.Result)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := f.seq
	f.translations[id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.translations, id)
	}
}

func (f *fakeSession) OnError(h func(error)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := f.seq
	f.errs[id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.errs, id)
	}
}

func (f *fakeSession) push(result translation.Result) {
	f.mu.Lock()
	var handlers []func(translation.Result)
	for _, h := range f.translations {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(result)
	}
}

func (f *fakeSession) fail(err error) {
	f.mu.Lock()
	var handlers []func(error)
	for _, h := range f.errs {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(err)
	}
}

func (f *fakeSession) sentChunks() []sentChunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentChunk(nil), f.sent...)
}

type fakeTranslator struct {
	mu       sync.Mutex
	requests []translation.TextRequest
	replies  map[string]string
	err      error
}

func (f *fakeTranslator) TranslateText(ctx context.Context, req translation.TextRequest) (translation.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return translation.Result{}, f.err
	}
	return translation.Result{OriginalText: req.Text, TranslatedText: f.replies[req.Text]}, nil
}

type fakeSpeech struct {
	mu         sync.Mutex
	ttsRequest translation.SpeechRequest
	sttLang    string
}

func (f *fakeSpeech) Voices(ctx context.Context) ([]translation.VoiceInfo, error) {
	return []translation.VoiceInfo{{Language: "en-US", VoiceName: "en-US-JennyNeural", Gender: "Female"}}, nil
}

func (f *fakeSpeech) SpeechToText(ctx context.Context, clip []byte, language string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sttLang = language
	return "bom dia", nil
}

func (f *fakeSpeech) TextToSpeech(ctx context.Context, req translation.SpeechRequest) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttsRequest = req
	return []byte("RIFF"), "audio/wav", nil
}

type fakePlayer struct {
	played chan []byte
}

func (f *fakePlayer) Play(ctx context.Context, clip []byte) error {
	select {
	case f.played <- clip:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
