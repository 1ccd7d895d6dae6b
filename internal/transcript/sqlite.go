package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/drewfead/parley/internal/protocol"
)

// SQLiteStore persists transcripts to a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the transcript database at dbPath
// and applies migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		sender          TEXT NOT NULL,
		agent           TEXT,
		kind            TEXT NOT NULL,
		sequence        INTEGER NOT NULL,
		timestamp       DATETIME NOT NULL,

		text            TEXT,
		tool_name       TEXT,
		tool_input      TEXT,
		tool_output     TEXT,

		usage           TEXT,
		raw             TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_conv_seq
		ON messages(conversation_id, sequence);
	CREATE INDEX IF NOT EXISTS idx_messages_timestamp
		ON messages(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, msg *Message) (int64, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// Sequence assignment and insert share the transaction so concurrent
	// appends to one conversation cannot collide.
	var seq int64
	row := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence)+1, 0) FROM messages WHERE conversation_id = ?`,
		msg.ConversationID)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	msg.Sequence = seq

	var usageStr *string
	if msg.Usage != nil {
		b, err := json.Marshal(msg.Usage)
		if err != nil {
			return 0, fmt.Errorf("marshal usage: %w", err)
		}
		str := string(b)
		usageStr = &str
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (
			id, conversation_id, sender, agent, kind, sequence, timestamp,
			text, tool_name, tool_input, tool_output, usage, raw
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID,
		msg.ConversationID,
		msg.Sender,
		nullString(msg.Agent),
		string(msg.Kind),
		msg.Sequence,
		msg.Timestamp,
		nullString(msg.Text),
		nullString(msg.ToolName),
		nullString(msg.ToolInput),
		nullString(msg.ToolOutput),
		usageStr,
		nullString(msg.Raw),
	)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return seq, nil
}

func (s *SQLiteStore) Recent(ctx context.Context, conversationID string, n int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender, agent, kind, sequence, timestamp,
		       text, tool_name, tool_input, tool_output, usage, raw
		FROM messages
		WHERE conversation_id = ?
		ORDER BY sequence DESC
		LIMIT ?`, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// Reverse back into sequence order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) All(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender, agent, kind, sequence, timestamp,
		       text, tool_name, tool_input, tool_output, usage, raw
		FROM messages
		WHERE conversation_id = ?
		ORDER BY sequence ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query all: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (s *SQLiteStore) Conversations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id
		FROM messages
		GROUP BY conversation_id
		ORDER BY MAX(timestamp) DESC`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var msgs []*Message
	for rows.Next() {
		var (
			msg                                   Message
			agent, text, toolName                 sql.NullString
			toolInput, toolOutput, usageStr, raw  sql.NullString
			kind                                  string
		)
		err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.Sender, &agent, &kind,
			&msg.Sequence, &msg.Timestamp,
			&text, &toolName, &toolInput, &toolOutput, &usageStr, &raw,
		)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Agent = agent.String
		msg.Kind = protocol.EventType(kind)
		msg.Text = text.String
		msg.ToolName = toolName.String
		msg.ToolInput = toolInput.String
		msg.ToolOutput = toolOutput.String
		msg.Raw = raw.String
		if usageStr.Valid && usageStr.String != "" {
			var u protocol.UsageStats
			if err := json.Unmarshal([]byte(usageStr.String), &u); err != nil {
				return nil, fmt.Errorf("unmarshal usage: %w", err)
			}
			msg.Usage = &u
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
