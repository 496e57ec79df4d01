package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/civaigentics/widget/backend/internal/model/feedback"
)

// SQLite keeps a local copy of every feedback and rating record.
type SQLite struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenSQLite opens or creates the database at path. ":memory:" is accepted.
func OpenSQLite(path string, logger zerolog.Logger) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLite{db: db, logger: logger.With().Str("component", "sink.sqlite").Logger()}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info().Str("path", path).Msg("feedback database ready")
	return s, nil
}

func (s *SQLite) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS feedback (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_index INTEGER NOT NULL,
			feedback_type TEXT NOT NULL,
			message_content TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			user_agent TEXT NOT NULL,
			client_ip TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_feedback_conversation
			ON feedback(conversation_id);

		CREATE TABLE IF NOT EXISTS ratings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			rating INTEGER NOT NULL,
			conversation_id TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			total_messages INTEGER NOT NULL,
			user_agent TEXT NOT NULL,
			client_ip TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) RecordFeedback(ctx context.Context, rec feedback.FeedbackRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (message_index, feedback_type, message_content, conversation_id, timestamp, user_agent, client_ip)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.MessageIndex, string(rec.FeedbackType), rec.MessageContent, rec.ConversationID, rec.Timestamp, rec.UserAgent, rec.ClientIP,
	)
	if err != nil {
		return fmt.Errorf("inserting feedback: %w", err)
	}
	return nil
}

func (s *SQLite) RecordRating(ctx context.Context, rec feedback.RatingRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ratings (rating, conversation_id, timestamp, total_messages, user_agent, client_ip)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Rating, rec.ConversationID, rec.Timestamp, rec.TotalMessages, rec.UserAgent, rec.ClientIP,
	)
	if err != nil {
		return fmt.Errorf("inserting rating: %w", err)
	}
	return nil
}

// Feedback returns the recorded feedback for a conversation, oldest first.
func (s *SQLite) Feedback(ctx context.Context, conversationID string) ([]feedback.FeedbackRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_index, feedback_type, message_content, conversation_id, timestamp, user_agent, client_ip
		FROM feedback WHERE conversation_id = ? ORDER BY id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying feedback: %w", err)
	}
	defer rows.Close()

	var out []feedback.FeedbackRecord
	for rows.Next() {
		var rec feedback.FeedbackRecord
		var mark string
		if err := rows.Scan(&rec.MessageIndex, &mark, &rec.MessageContent, &rec.ConversationID, &rec.Timestamp, &rec.UserAgent, &rec.ClientIP); err != nil {
			return nil, fmt.Errorf("scanning feedback: %w", err)
		}
		rec.FeedbackType = feedback.Mark(mark)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RatingStats summarizes recorded ratings.
type RatingStats struct {
	Count   int     `json:"count"`
	Average float64 `json:"average"`
}

// Ratings returns the count and mean of every recorded rating.
func (s *SQLite) Ratings(ctx context.Context) (RatingStats, error) {
	var stats RatingStats
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), AVG(rating) FROM ratings`).Scan(&stats.Count, &avg)
	if err != nil {
		return RatingStats{}, fmt.Errorf("querying ratings: %w", err)
	}
	stats.Average = avg.Float64
	return stats, nil
}
