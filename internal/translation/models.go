package translation

import "time"

// Result is one translated utterance, either pushed by the hub or returned by
// the text path. TranslatedAudio is base64 encoded WAV when present.
type Result struct {
	OriginalText    string `json:"originalText"`
	TranslatedText  string `json:"translatedText"`
	TranslatedAudio string `json:"translatedAudio,omitempty"`
}

// HasAudio reports whether the backend attached synthesized speech
func (r Result) HasAudio() bool {
	return r.TranslatedAudio != ""
}

// Origin tells which path produced a result
type Origin string

const (
	OriginStream Origin = "stream"
	OriginText   Origin = "text"
)

// Entry is a result as stored in the orchestrator log, stamped on arrival
type Entry struct {
	Result
	Origin     Origin    `json:"origin"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// TextRequest is the body of POST /translation/text
type TextRequest struct {
	Text         string `json:"text"`
	FromLanguage string `json:"fromLanguage"`
	ToLanguage   string `json:"toLanguage"`
}

// TextResponse is the reply of POST /translation/text
type TextResponse struct {
	OriginalText   string `json:"originalText"`
	TranslatedText string `json:"translatedText"`
}

// SpeechRecognitionResponse is the reply of POST /translation/speech-to-text
type SpeechRecognitionResponse struct {
	RecognizedText string `json:"recognizedText"`
}

// SpeechRequest is the body of POST /translation/text-to-speech
type SpeechRequest struct {
	Text      string `json:"text"`
	Language  string `json:"language"`
	VoiceName string `json:"voiceName,omitempty"`
}

// VoiceInfo describes a synthesis voice offered by the backend
type VoiceInfo struct {
	Language  string `json:"language"`
	VoiceName string `json:"voiceName"`
	Gender    string `json:"gender"`
}
