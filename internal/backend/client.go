package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/translation"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/pkg/logger"
)

const maxErrorBody = 4 * 1024

// StatusError is returned for non-2xx backend responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Body)
}

// Config holds backend HTTP client settings
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
}

// NewCookieJar creates the cookie jar shared by the HTTP client and the hub dialer
func NewCookieJar() (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return jar, nil
}

// Client calls the translation backend's request/response API
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *logger.Logger
}

// NewClient creates a backend client. jar may be nil.
func NewClient(config Config, jar http.CookieJar, log *logger.Logger) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 500 * time.Millisecond
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
			Jar:       jar,
		},
		maxRetries: config.MaxRetries,
		backoff:    config.InitialBackoff,
		logger:     log.Named("backend-client"),
	}
}

type request struct {
	method      string
	path        string
	body        []byte
	contentType string
	header      http.Header
}

// do executes the request, retrying transport failures and 5xx responses
// with exponential backoff. 4xx responses are returned immediately.
func (c *Client) do(ctx context.Context, r request) ([]byte, http.Header, error) {
	url := c.baseURL + r.path
	delay := c.backoff

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying backend request",
				logger.String("path", r.path),
				logger.Int("attempt", attempt),
				logger.Int("max_retries", c.maxRetries),
				logger.Error(lastErr))

			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}

		var body io.Reader
		if r.body != nil {
			body = bytes.NewReader(r.body)
		}
		req, err := http.NewRequestWithContext(ctx, r.method, url, body)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create request: %w", err)
		}
		for k, v := range r.header {
			req.Header[k] = v
		}
		if r.contentType != "" {
			req.Header.Set("Content-Type", r.contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if readErr != nil {
				return nil, nil, fmt.Errorf("failed to read response: %w", readErr)
			}
			return data, resp.Header, nil
		}

		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		lastErr = &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		if resp.StatusCode < 500 {
			return nil, nil, lastErr
		}
	}

	return nil, nil, fmt.Errorf("%s %s failed after %d attempts: %w", r.method, r.path, c.maxRetries+1, lastErr)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	data, _, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        path,
		body:        body,
		contentType: "application/json",
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// TranslateText translates one text through POST /translation/text
func (c *Client) TranslateText(ctx context.Context, req translation.TextRequest) (translation.Result, error) {
	var resp translation.TextResponse
	if err := c.postJSON(ctx, "/translation/text", req, &resp); err != nil {
		return translation.Result{}, err
	}

	c.logger.Debug("Text translated",
		logger.String("from", req.FromLanguage),
		logger.String("to", req.ToLanguage))

	return translation.Result{
		OriginalText:   resp.OriginalText,
		TranslatedText: resp.TranslatedText,
	}, nil
}

// SpeechToText recognizes speech in audio (any container the backend accepts)
func (c *Client) SpeechToText(ctx context.Context, audio []byte, language string) (string, error) {
	header := http.Header{}
	header.Set("X-Language", language)

	data, _, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/translation/speech-to-text",
		body:        audio,
		contentType: "application/octet-stream",
		header:      header,
	})
	if err != nil {
		return "", err
	}

	var resp translation.SpeechRecognitionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("failed to decode speech-to-text response: %w", err)
	}
	return resp.RecognizedText, nil
}

// TextToSpeech synthesizes text and returns the audio bytes and their content type
func (c *Client) TextToSpeech(ctx context.Context, req translation.SpeechRequest) ([]byte, string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode request: %w", err)
	}

	data, header, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/translation/text-to-speech",
		body:        body,
		contentType: "application/json",
	})
	if err != nil {
		return nil, "", err
	}

	contentType := header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/wav"
	}
	return data, contentType, nil
}

// Voices lists the synthesis voices offered by the backend
func (c *Client) Voices(ctx context.Context) ([]translation.VoiceInfo, error) {
	data, _, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/translation/voices",
	})
	if err != nil {
		return nil, err
	}

	var voices []translation.VoiceInfo
	if err := json.Unmarshal(data, &voices); err != nil {
		return nil, fmt.Errorf("failed to decode voices: %w", err)
	}
	return voices, nil
}
