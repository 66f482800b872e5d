package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Komeiji-Shiki/persistent-chat/internal/domain"
)

// ChatLogService is the append-only record store of chat turns, one row per
// turn, grouped by session.
type ChatLogService struct {
	db *sql.DB
}

func NewChatLogService(db *sql.DB) *ChatLogService {
	return &ChatLogService{db: db}
}

// Insert appends a turn to the session's log. Empty normalized text is never
// persisted; the call is a no-op. The timestamp is the current unix second,
// with insertion order breaking ties.
func (s *ChatLogService) Insert(ctx context.Context, sessionID, senderID, senderName, messageText string) error {
	if messageText == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_logs (session_id, sender_id, sender_name, message_text, timestamp) VALUES (?, ?, ?, ?, ?)`,
		sessionID, senderID, senderName, messageText, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert chat log: %w", err)
	}
	return nil
}

// MostRecent returns up to limit turns for the session, newest first.
func (s *ChatLogService) MostRecent(ctx context.Context, sessionID string, limit int) ([]domain.ChatTurn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, sender_id, sender_name, message_text, timestamp
		 FROM chat_logs WHERE session_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query chat logs: %w", err)
	}
	defer rows.Close()

	var turns []domain.ChatTurn
	for rows.Next() {
		var t domain.ChatTurn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.SenderID, &t.SenderName, &t.MessageText, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan chat log: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat logs: %w", err)
	}
	return turns, nil
}

// SessionTexts returns the message text of every turn in the session, used to
// sweep referenced images before deletion.
func (s *ChatLogService) SessionTexts(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_text FROM chat_logs WHERE session_id = ?`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query session texts: %w", err)
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("scan session text: %w", err)
		}
		texts = append(texts, text)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session texts: %w", err)
	}
	return texts, nil
}

// DeleteSession removes every turn of one session and reports how many rows
// were deleted.
func (s *ChatLogService) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_logs WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete session logs: %w", err)
	}
	return res.RowsAffected()
}

// DeleteAll removes every turn of every session.
func (s *ChatLogService) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_logs`)
	if err != nil {
		return 0, fmt.Errorf("delete all logs: %w", err)
	}
	return res.RowsAffected()
}
