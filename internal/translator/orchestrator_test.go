package translator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/audio"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/capture"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/hub"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/metrics"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/storage/sqlite"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/translation"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/pkg/logger"
)

var testStart = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	orch       *Orchestrator
	capture    *fakeCapture
	session    *fakeSession
	translator *fakeTranslator
	speech     *fakeSpeech
	player     *fakePlayer
	metrics    *metrics.Metrics
}

func newHarness(t *testing.T, opts ...func(*Config, *Dependencies)) *harness {
	t.Helper()
	h := &harness{
		capture:    &fakeCapture{},
		session:    newFakeSession(),
		translator: &fakeTranslator{replies: map[string]string{"Olá": "Hello"}},
		speech:     &fakeSpeech{},
		player:     &fakePlayer{played: make(chan []byte, 4)},
		metrics:    metrics.New(),
	}

	cfg := Config{SourceLanguage: "pt-BR", TargetLanguage: "en-US", AutoPlay: true}
	deps := Dependencies{
		Capture:    h.capture,
		Session:    h.session,
		Translator: h.translator,
		Speech:     h.speech,
		Player:     h.player,
		Metrics:    h.metrics,
		Clock:      clockwork.NewFakeClockAt(testStart),
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	orch, err := New(cfg, deps, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { orch.Close(context.Background()) })
	h.orch = orch
	return h
}

func originals(entries []translation.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.OriginalText
	}
	return out
}

func TestNewValidatesLanguages(t *testing.T) {
	deps := Dependencies{Capture: &fakeCapture{}, Session: newFakeSession(), Translator: &fakeTranslator{}}

	_, err := New(Config{SourceLanguage: "xx", TargetLanguage: "en-US"}, deps, logger.NewNop())
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)

	_, err = New(Config{SourceLanguage: "en-US", TargetLanguage: "en-US"}, deps, logger.NewNop())
	assert.ErrorIs(t, err, ErrSameLanguage)
}

func TestStartRecordingConnectsBeforeCapture(t *testing.T) {
	h := newHarness(t)
	var stateAtStart hub.State
	h.capture.onStart = func() { stateAtStart = h.session.State() }

	require.NoError(t, h.orch.StartRecording(context.Background()))

	assert.Equal(t, hub.Joined, stateAtStart)
	assert.Equal(t, 1, h.session.connects)
	require.Len(t, h.session.joined, 1)
	_, err := uuid.Parse(h.session.joined[0])
	assert.NoError(t, err, "session id should be a uuid")
	assert.True(t, h.capture.isRecording())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Recording))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SessionConnections))
}

func TestStartRecordingConnectFailureDoesNotCapture(t *testing.T) {
	h := newHarness(t)
	h.session.connectErr = errors.New("refused")

	err := h.orch.StartRecording(context.Background())
	require.ErrorIs(t, err, hub.ErrConnectionFailed)

	assert.Equal(t, 0, h.capture.starts)
	status := h.orch.Status()
	assert.False(t, status.Connected)
	assert.Contains(t, status.LastError, "failed to connect to translation service")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.BackendErrors.WithLabelValues("connection")))
}

func TestStartRecordingDeviceFailureIsSurfaced(t *testing.T) {
	h := newHarness(t)
	h.capture.startErr = audio.ErrDeviceUnavailable

	err := h.orch.StartRecording(context.Background())
	require.ErrorIs(t, err, audio.ErrDeviceUnavailable)
	assert.Contains(t, h.orch.Status().LastError, "failed to start recording")
	assert.True(t, h.orch.Status().Connected)
}

func TestStopRecordingKeepsSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.orch.StartRecording(ctx))
	h.orch.StopRecording()

	assert.False(t, h.capture.isRecording())
	assert.Equal(t, hub.Joined, h.session.State())
	assert.Equal(t, 0, h.session.disconnects)
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.Recording))

	// second recording reuses the joined session
	require.NoError(t, h.orch.StartRecording(ctx))
	assert.Equal(t, 1, h.session.connects)
	assert.Len(t, h.session.joined, 1)
	assert.Equal(t, 2, h.capture.starts)
}

func TestStopFlushesFinalChunkIntoSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.orch.StartRecording(context.Background()))

	h.orch.StopRecording()

	sent := h.session.sentChunks()
	require.Len(t, sent, 1)
	assert.Equal(t, []byte("final"), sent[0].data)
}

func TestChunksAreSentWithCurrentLanguages(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.orch.StartRecording(context.Background()))
	id := h.session.SessionID()

	h.capture.emit(audio.Chunk{Seq: 0, Data: []byte{1, 2}})
	source, target := h.orch.SwapLanguages()
	assert.Equal(t, "en-US", source)
	assert.Equal(t, "pt-BR", target)
	h.capture.emit(audio.Chunk{Seq: 1, Data: []byte{3, 4}})

	sent := h.session.sentChunks()
	require.Len(t, sent, 2)
	assert.Equal(t, sentChunk{data: []byte{1, 2}, sessionID: id, source: "pt-BR", target: "en-US"}, sent[0])
	assert.Equal(t, sentChunk{data: []byte{3, 4}, sessionID: id, source: "en-US", target: "pt-BR"}, sent[1])
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.ChunksSent))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.ChunksCaptured))
}

func TestChunksWithoutSessionAreDroppedAndCounted(t *testing.T) {
	h := newHarness(t)

	h.capture.emit(audio.Chunk{Seq: 0, Data: []byte{1}})
	h.capture.emit(audio.Chunk{Seq: 1, Data: []byte{2}})

	assert.Empty(t, h.session.sentChunks())
	status := h.orch.Status()
	assert.EqualValues(t, 2, status.DroppedChunks)
	assert.Empty(t, status.LastError)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.ChunksDropped))
}

func TestChunkSendFailureKeepsCapturing(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.orch.StartRecording(context.Background()))
	h.session.mu.Lock()
	h.session.sendErr = errors.New("hub rejected")
	h.session.mu.Unlock()

	h.capture.emit(audio.Chunk{Seq: 0, Data: []byte{1}})

	assert.True(t, h.capture.isRecording())
	assert.Equal(t, 0, h.capture.stops)
	assert.Contains(t, h.orch.Status().LastError, "failed to process audio chunk")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ChunkSendFailures))

	h.session.mu.Lock()
	h.session.sendErr = nil
	h.session.mu.Unlock()
	h.capture.emit(audio.Chunk{Seq: 1, Data: []byte{2}})
	assert.Len(t, h.session.sentChunks(), 1)
}

func TestDeviceLossIsSurfacedAndKeepsSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.orch.StartRecording(context.Background()))

	h.capture.loseDevice(fmt.Errorf("%w: exit status 1", audio.ErrDeviceUnavailable))

	status := h.orch.Status()
	assert.False(t, status.Recording)
	assert.True(t, status.Connected)
	assert.Contains(t, status.LastError, "recording stopped")
	assert.Contains(t, status.LastError, audio.ErrDeviceUnavailable.Error())
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.Recording))

	// the partial audio still reaches the session
	sent := h.session.sentChunks()
	require.Len(t, sent, 1)
	assert.Equal(t, []byte("final"), sent[0].data)
}

func TestResultLogKeepsArrivalOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.session.push(translation.Result{OriginalText: "A", TranslatedText: "a"})
	h.session.push(translation.Result{OriginalText: "B", TranslatedText: "b"})
	_, err := h.orch.TranslateText(ctx, "Olá")
	require.NoError(t, err)
	h.session.push(translation.Result{OriginalText: "C", TranslatedText: "c"})

	results := h.orch.Results()
	assert.Equal(t, []string{"A", "B", "Olá", "C"}, originals(results))
	assert.Equal(t, translation.OriginStream, results[0].Origin)
	assert.Equal(t, translation.OriginText, results[2].Origin)
	assert.Equal(t, testStart, results[0].ReceivedAt)

	h.orch.ClearResults()
	assert.Empty(t, h.orch.Results())

	h.session.push(translation.Result{OriginalText: "D", TranslatedText: "d"})
	assert.Equal(t, []string{"D"}, originals(h.orch.Results()))
	assert.Equal(t, 4.0, testutil.ToFloat64(h.metrics.ResultsReceived.WithLabelValues("stream")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ResultsReceived.WithLabelValues("text")))
}

func TestClearResultsKeepsConnectionAndCapture(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.orch.StartRecording(context.Background()))
	h.session.push(translation.Result{OriginalText: "A"})

	h.orch.ClearResults()

	assert.True(t, h.capture.isRecording())
	assert.Equal(t, hub.Joined, h.session.State())
}

func TestTranslateText(t *testing.T) {
	h := newHarness(t)

	entry, err := h.orch.TranslateText(context.Background(), "Olá")
	require.NoError(t, err)

	require.Len(t, h.translator.requests, 1)
	assert.Equal(t, translation.TextRequest{Text: "Olá", FromLanguage: "pt-BR", ToLanguage: "en-US"}, h.translator.requests[0])
	assert.Equal(t, translation.Result{OriginalText: "Olá", TranslatedText: "Hello"}, entry.Result)

	results := h.orch.Results()
	require.Len(t, results, 1)
	assert.Equal(t, entry, results[0])
	assert.Equal(t, 0, h.session.connects, "text path needs no session")
}

func TestTranslateTextErrors(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.TranslateText(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyText)

	h.translator.err = errors.New("backend down")
	_, err = h.orch.TranslateText(context.Background(), "Olá")
	require.Error(t, err)
	assert.Contains(t, h.orch.Status().LastError, "failed to translate text")
	assert.Empty(t, h.orch.Results())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.BackendErrors.WithLabelValues("text")))
}

func TestAutoPlayStreamedAudio(t *testing.T) {
	h := newHarness(t)
	clip := []byte("RIFF-clip")

	h.session.push(translation.Result{
		OriginalText:    "Olá",
		TranslatedText:  "Hello",
		TranslatedAudio: base64.StdEncoding.EncodeToString(clip),
	})

	select {
	case played := <-h.player.played:
		assert.Equal(t, clip, played)
	case <-time.After(2 * time.Second):
		t.Fatal("clip was not played")
	}

	h.orch.SetAutoPlay(false)
	h.session.push(translation.Result{
		OriginalText:    "Tchau",
		TranslatedAudio: base64.StdEncoding.EncodeToString(clip),
	})
	select {
	case <-h.player.played:
		t.Fatal("clip played with auto-play disabled")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUndecodableAudioIsSkipped(t *testing.T) {
	h := newHarness(t)

	h.session.push(translation.Result{OriginalText: "x", TranslatedAudio: "!!not base64"})

	assert.Len(t, h.orch.Results(), 1)
	select {
	case <-h.player.played:
		t.Fatal("undecodable clip was played")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSessionErrorsLastOneWins(t *testing.T) {
	h := newHarness(t)

	h.session.fail(&hub.BackendError{Message: "speech service unavailable"})
	assert.Equal(t, "backend error: speech service unavailable", h.orch.Status().LastError)

	h.session.fail(hub.ErrConnectionLost)
	assert.Equal(t, hub.ErrConnectionLost.Error(), h.orch.Status().LastError)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.BackendErrors.WithLabelValues("pushed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.BackendErrors.WithLabelValues("connection")))

	require.NoError(t, h.orch.Connect(context.Background()))
	assert.Empty(t, h.orch.Status().LastError)
}

func TestConnectRejoinsPreviousSession(t *testing.T) {
	h := newHarness(t)
	// reconnected transport that did not re-join
	h.session.state = hub.Connected
	h.session.sessionID = "previous"

	require.NoError(t, h.orch.Connect(context.Background()))

	assert.Equal(t, []string{"previous"}, h.session.joined)
	assert.Equal(t, hub.Joined, h.session.State())
}

func TestConnectIsNoopWhenJoined(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.orch.Connect(ctx))
	require.NoError(t, h.orch.Connect(ctx))

	assert.Equal(t, 1, h.session.connects)
	assert.Len(t, h.session.joined, 1)
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.orch.Connect(ctx))

	h.orch.Disconnect(ctx)

	status := h.orch.Status()
	assert.False(t, status.Connected)
	assert.Equal(t, "disconnected", status.ConnectionState)
}

func TestSetLanguages(t *testing.T) {
	h := newHarness(t)

	assert.ErrorIs(t, h.orch.SetLanguages("xx-XX", "en-US"), ErrUnsupportedLanguage)
	assert.ErrorIs(t, h.orch.SetLanguages("pt-BR", "pt-BR"), ErrSameLanguage)

	require.NoError(t, h.orch.SetLanguages("en-US", "pt-BR"))
	source, target := h.orch.Languages()
	assert.Equal(t, "en-US", source)
	assert.Equal(t, "pt-BR", target)
}

func TestSetContinuousModeOnlyWhileIdle(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.orch.SetContinuousMode(true))
	assert.True(t, h.orch.Status().ContinuousMode)

	require.NoError(t, h.orch.StartRecording(context.Background()))
	assert.ErrorIs(t, h.orch.SetContinuousMode(false), capture.ErrBusy)
	assert.True(t, h.orch.Status().ContinuousMode)
}

func TestStatusSnapshot(t *testing.T) {
	h := newHarness(t)
	h.capture.level = 42
	require.NoError(t, h.orch.StartRecording(context.Background()))
	h.session.push(translation.Result{OriginalText: "A"})

	status := h.orch.Status()
	assert.True(t, status.Connected)
	assert.Equal(t, "joined", status.ConnectionState)
	assert.Equal(t, h.session.SessionID(), status.SessionID)
	assert.True(t, status.Recording)
	assert.Equal(t, 42.0, status.LevelPercent)
	assert.False(t, status.Processing)
	assert.True(t, status.AutoPlay)
	assert.Equal(t, "pt-BR", status.SourceLanguage)
	assert.Equal(t, "en-US", status.TargetLanguage)
	assert.Equal(t, 1, status.ResultCount)
}

func TestSpeechHelpersUseLanguageDefaults(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _, err := h.orch.TextToSpeech(ctx, translation.SpeechRequest{Text: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, translation.SpeechRequest{Text: "Hello", Language: "en-US", VoiceName: "en-US-JennyNeural"}, h.speech.ttsRequest)

	text, err := h.orch.SpeechToText(ctx, []byte("RIFF"), "")
	require.NoError(t, err)
	assert.Equal(t, "bom dia", text)
	assert.Equal(t, "pt-BR", h.speech.sttLang)

	voices, err := h.orch.Voices(ctx)
	require.NoError(t, err)
	assert.Len(t, voices, 1)
}

func TestHistoryPersistsAppendedResults(t *testing.T) {
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	store, err := sqlite.NewResultStorage(db, logger.NewNop())
	require.NoError(t, err)

	h := newHarness(t, func(_ *Config, deps *Dependencies) { deps.History = store })
	ctx := context.Background()
	require.NoError(t, h.orch.Connect(ctx))
	id := h.session.SessionID()

	h.session.push(translation.Result{OriginalText: "Olá", TranslatedText: "Hello"})
	_, err = h.orch.TranslateText(ctx, "Olá")
	require.NoError(t, err)

	records, err := h.orch.History(id, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "text", records[0].Origin)
	assert.Equal(t, "stream", records[1].Origin)
	assert.Equal(t, "pt-BR", records[1].SourceLanguage)
	assert.Equal(t, "en-US", records[1].TargetLanguage)
}

func TestHistoryDisabled(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.History("", 10)
	assert.ErrorIs(t, err, ErrHistoryDisabled)
}

func TestCloseStopsCaptureAndDisconnects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.orch.StartRecording(ctx))

	h.orch.Close(ctx)
	h.orch.Close(ctx)

	assert.False(t, h.capture.isRecording())
	assert.Equal(t, 1, h.session.disconnects)
	require.Len(t, h.session.sentChunks(), 1, "final chunk is sent before the session is left")

	assert.ErrorIs(t, h.orch.StartRecording(ctx), ErrClosed)
	assert.ErrorIs(t, h.orch.Connect(ctx), ErrClosed)
	_, err := h.orch.TranslateText(ctx, "Olá")
	assert.ErrorIs(t, err, ErrClosed)

	h.session.push(translation.Result{OriginalText: "late"})
	assert.Empty(t, h.orch.Results())
}
