package sqlite

import "time"

// ResultRecord is a persisted translation result
type ResultRecord struct {
	ID             int64     `json:"id"`
	SessionID      string    `json:"session_id,omitempty"`
	SourceLanguage string    `json:"source_language"`
	TargetLanguage string    `json:"target_language"`
	Origin         string    `json:"origin"` // "stream" or "text"
	OriginalText   string    `json:"original_text"`
	TranslatedText string    `json:"translated_text"`
	HasAudio       bool      `json:"has_audio"`
	ReceivedAt     time.Time `json:"received_at"`
	CreatedAt      time.Time `json:"created_at"`
}
