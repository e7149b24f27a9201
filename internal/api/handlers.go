package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/audio"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/backend"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/capture"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/hub"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/storage/sqlite"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/translation"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/translator"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/pkg/logger"
)

const (
	maxJSONBody  = 1 << 20
	maxAudioBody = 25 << 20
)

// Service is the translator surface exposed over HTTP
type Service interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context)
	StartRecording(ctx context.Context) error
	StopRecording()
	TranslateText(ctx context.Context, text string) (translation.Entry, error)
	Results() []translation.Entry
	ClearResults()
	Languages() (string, string)
	SetLanguages(source, target string) error
	SwapLanguages() (string, string)
	SetAutoPlay(enabled bool)
	SetContinuousMode(enabled bool) error
	Status() translator.Status
	Voices(ctx context.Context) ([]translation.VoiceInfo, error)
	SpeechToText(ctx context.Context, clip []byte, language string) (string, error)
	TextToSpeech(ctx context.Context, req translation.SpeechRequest) ([]byte, string, error)
	History(sessionID string, limit int) ([]*sqlite.ResultRecord, error)
}

// Handler serves the API endpoints
type Handler struct {
	service Service
	logger  *logger.Logger
}

// NewHandler creates a new handler
func NewHandler(service Service, log *logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  log.Named("api-handler"),
	}
}

type translateRequest struct {
	Text string `json:"text"`
}

type languagesRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

type languagesResponse struct {
	Source    string                       `json:"source"`
	Target    string                       `json:"target"`
	Available []translation.LanguageOption `json:"available"`
}

type settingsRequest struct {
	AutoPlay       *bool `json:"autoPlay"`
	ContinuousMode *bool `json:"continuousMode"`
}

// GetHealth returns service health
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetStatus returns the translator status snapshot
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.Status())
}

// Connect connects to the hub and joins a session
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Connect(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.service.Status())
}

// Disconnect leaves the session and closes the connection
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.service.Disconnect(r.Context())
	h.writeJSON(w, http.StatusOK, h.service.Status())
}

// StartRecording connects if needed and starts capture
func (h *Handler) StartRecording(w http.ResponseWriter, r *http.Request) {
	if err := h.service.StartRecording(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.service.Status())
}

// StopRecording stops capture
func (h *Handler) StopRecording(w http.ResponseWriter, r *http.Request) {
	h.service.StopRecording()
	h.writeJSON(w, http.StatusOK, h.service.Status())
}

// TranslateText runs the text path
func (h *Handler) TranslateText(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	entry, err := h.service.TranslateText(r.Context(), req.Text)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entry)
}

// GetResults returns the result log in arrival order
func (h *Handler) GetResults(w http.ResponseWriter, r *http.Request) {
	results := h.service.Results()
	if results == nil {
		results = []translation.Entry{}
	}
	h.writeJSON(w, http.StatusOK, results)
}

// ClearResults empties the result log
func (h *Handler) ClearResults(w http.ResponseWriter, r *http.Request) {
	h.service.ClearResults()
	w.WriteHeader(http.StatusNoContent)
}

// GetHistory returns persisted results, optionally for one session
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}

	records, err := h.service.History(r.URL.Query().Get("session"), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}

// GetLanguages returns the selected pair and the reference list
func (h *Handler) GetLanguages(w http.ResponseWriter, r *http.Request) {
	h.writeLanguages(w)
}

// SetLanguages changes the language pair
func (h *Handler) SetLanguages(w http.ResponseWriter, r *http.Request) {
	var req languagesRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if err := h.service.SetLanguages(req.Source, req.Target); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeLanguages(w)
}

// SwapLanguages exchanges source and target
func (h *Handler) SwapLanguages(w http.ResponseWriter, r *http.Request) {
	h.service.SwapLanguages()
	h.writeLanguages(w)
}

func (h *Handler) writeLanguages(w http.ResponseWriter) {
	source, target := h.service.Languages()
	h.writeJSON(w, http.StatusOK, languagesResponse{
		Source:    source,
		Target:    target,
		Available: translation.Languages(),
	})
}

// UpdateSettings changes auto-play and continuous mode
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	if req.ContinuousMode != nil {
		if err := h.service.SetContinuousMode(*req.ContinuousMode); err != nil {
			h.writeError(w, err)
			return
		}
	}
	if req.AutoPlay != nil {
		h.service.SetAutoPlay(*req.AutoPlay)
	}
	h.writeJSON(w, http.StatusOK, h.service.Status())
}

// GetVoices lists backend voices
func (h *Handler) GetVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := h.service.Voices(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, voices)
}

// SpeechToText recognizes the binary request body
func (h *Handler) SpeechToText(w http.ResponseWriter, r *http.Request) {
	clip, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAudioBody))
	if err != nil {
		h.writeErrorStatus(w, http.StatusRequestEntityTooLarge, fmt.Errorf("failed to read audio: %w", err))
		return
	}
	if len(clip) == 0 {
		h.writeErrorStatus(w, http.StatusBadRequest, errors.New("audio body is required"))
		return
	}

	text, err := h.service.SpeechToText(r.Context(), clip, r.Header.Get("X-Language"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, translation.SpeechRecognitionResponse{RecognizedText: text})
}

// TextToSpeech returns synthesized audio
func (h *Handler) TextToSpeech(w http.ResponseWriter, r *http.Request) {
	var req translation.SpeechRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	clip, contentType, err := h.service.TextToSpeech(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(clip)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(clip); err != nil {
		h.logger.Debug("Failed to write audio response", logger.Error(err))
	}
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		h.writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", logger.Error(err))
	}
}

// writeError maps domain errors to HTTP status codes
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeErrorStatus(w, statusFor(err), err)
}

func (h *Handler) writeErrorStatus(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", logger.Int("status", status), logger.Error(err))
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	var statusErr *backend.StatusError
	switch {
	case errors.Is(err, translator.ErrEmptyText),
		errors.Is(err, translator.ErrUnsupportedLanguage),
		errors.Is(err, translator.ErrSameLanguage):
		return http.StatusBadRequest
	case errors.Is(err, translator.ErrHistoryDisabled):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, translator.ErrClosed),
		errors.Is(err, audio.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, hub.ErrConnectionFailed),
		errors.Is(err, hub.ErrTransmissionFailed),
		errors.As(err, &statusErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
