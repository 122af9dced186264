package repository

import (
	"encoding/json"
	"fmt"

	"docchat/internal/domain"
)

// SessionRepository persists the session store. The whole set is rewritten on
// every save; session volume is capped, so this stays cheap.
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// SaveAll replaces the stored sessions with the given set in one transaction.
func (r *SessionRepository) SaveAll(records []domain.SessionRecord) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin session save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM sessions"); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}

	for _, rec := range records {
		messages, err := json.Marshal(rec.Messages)
		if err != nil {
			return fmt.Errorf("marshal messages for %s: %w", rec.ID, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO sessions (id, title, created_at, last_activity, messages)
			VALUES (?, ?, ?, ?, ?)
		`, rec.ID, rec.Title, rec.CreatedAt, rec.LastActivity, string(messages)); err != nil {
			return fmt.Errorf("insert session %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session save: %w", err)
	}
	return nil
}

// LoadAll reads every stored session.
func (r *SessionRepository) LoadAll() ([]domain.SessionRecord, error) {
	rows, err := r.db.Query(`SELECT id, title, created_at, last_activity, messages FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	defer rows.Close()

	var records []domain.SessionRecord
	for rows.Next() {
		var rec domain.SessionRecord
		var messages string
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.CreatedAt, &rec.LastActivity, &messages); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if err := json.Unmarshal([]byte(messages), &rec.Messages); err != nil {
			return nil, fmt.Errorf("unmarshal messages for %s: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
