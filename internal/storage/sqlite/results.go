package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/translation"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/pkg/logger"
)

// DefaultListLimit caps history queries that do not ask for a limit
const DefaultListLimit = 100

// ResultStorage handles storage of translation results
type ResultStorage struct {
	db     *sql.DB
	clock  func() time.Time
	logger *logger.Logger
}

// NewResultStorage creates a new SQLite result storage and its schema
func NewResultStorage(db *sql.DB, log *logger.Logger) (*ResultStorage, error) {
	storage := &ResultStorage{
		db:     db,
		clock:  time.Now,
		logger: log.Named("sqlite-results"),
	}

	if err := storage.initDB(); err != nil {
		return nil, err
	}

	return storage, nil
}

// initDB initializes the database tables
func (s *ResultStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS translation_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL DEFAULT '',
			source_language TEXT NOT NULL,
			target_language TEXT NOT NULL,
			origin TEXT NOT NULL,
			original_text TEXT NOT NULL,
			translated_text TEXT NOT NULL,
			has_audio INTEGER NOT NULL DEFAULT 0,
			received_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create translation_results table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_results_session_id ON translation_results(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_results_received_at ON translation_results(received_at)`,
		`CREATE INDEX IF NOT EXISTS idx_results_origin ON translation_results(origin)`,
	}

	for _, indexSQL := range indexes {
		if _, err = s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create translation_results index: %w", err)
		}
	}

	return nil
}

// Store persists one appended result. Audio is not stored, only whether it was present.
func (s *ResultStorage) Store(entry translation.Entry, sessionID, sourceLanguage, targetLanguage string) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO translation_results
		(session_id, source_language, target_language, origin, original_text, translated_text, has_audio, received_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID,
		sourceLanguage,
		targetLanguage,
		string(entry.Origin),
		entry.OriginalText,
		entry.TranslatedText,
		entry.HasAudio(),
		entry.ReceivedAt.UTC().Format(time.RFC3339),
		s.clock().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert translation result: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	s.logger.Debug("Stored translation result",
		logger.Int64("id", id),
		logger.String("session_id", sessionID),
		logger.String("origin", string(entry.Origin)))

	return id, nil
}

// List returns the most recent results, newest first. An empty sessionID
// lists across all sessions.
func (s *ResultStorage) List(sessionID string, limit int) ([]*ResultRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var (
		rows *sql.Rows
		err  error
	)
	if sessionID == "" {
		rows, err = s.db.Query(
			`SELECT id, session_id, source_language, target_language, origin, original_text, translated_text, has_audio, received_at, created_at
			FROM translation_results
			ORDER BY id DESC
			LIMIT ?`,
			limit,
		)
	} else {
		rows, err = s.db.Query(
			`SELECT id, session_id, source_language, target_language, origin, original_text, translated_text, has_audio, received_at, created_at
			FROM translation_results
			WHERE session_id = ?
			ORDER BY id DESC
			LIMIT ?`,
			sessionID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query translation results: %w", err)
	}
	defer rows.Close()

	return s.scanResultRows(rows)
}

// DeleteSession removes the stored results of one session
func (s *ResultStorage) DeleteSession(sessionID string) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM translation_results WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete translation results: %w", err)
	}
	return result.RowsAffected()
}

// scanResultRows scans database rows into ResultRecord structs
func (s *ResultStorage) scanResultRows(rows *sql.Rows) ([]*ResultRecord, error) {
	records := []*ResultRecord{}
	for rows.Next() {
		var record ResultRecord
		var receivedAt, createdAt string

		if err := rows.Scan(
			&record.ID,
			&record.SessionID,
			&record.SourceLanguage,
			&record.TargetLanguage,
			&record.Origin,
			&record.OriginalText,
			&record.TranslatedText,
			&record.HasAudio,
			&receivedAt,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan translation result: %w", err)
		}

		var err error
		record.ReceivedAt, err = time.Parse(time.RFC3339, receivedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse received_at: %w", err)
		}

		record.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}

		records = append(records, &record)
	}

	return records, rows.Err()
}
