package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chauhan112/MyAIChat/internal/models"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"
)

// Timestamps are stored as INTEGER unix nanoseconds in UTC.
const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id INTEGER NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_timestamp
    ON messages(conversation_id, timestamp);`

type Database struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (or creates) the SQLite file at dbPath and applies the schema.
func New(dbPath string) (*Database, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}

	dsn := "file:" + dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", dbPath, err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to apply schema: %w", err), db.Close())
	}

	return &Database{db: db, now: time.Now}, nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

// withTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back on every other exit path.
func (db *Database) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError(op, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				err = multierr.Append(err, storageError("rollback "+op, rbErr))
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if cerr := tx.Commit(); cerr != nil {
		return storageError("commit "+op, cerr)
	}
	return nil
}

func (db *Database) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	title, err := validTitle(title)
	if err != nil {
		return nil, err
	}

	now := db.now().UTC()
	res, err := db.db.ExecContext(ctx, `
        INSERT INTO conversations (title, created_at, updated_at)
        VALUES (?, ?, ?)`, title, now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, storageError("insert conversation", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, storageError("read conversation id", err)
	}

	return &models.Conversation{
		ID:        id,
		Title:     title,
		CreatedAt: fromNanos(now.UnixNano()),
		UpdatedAt: fromNanos(now.UnixNano()),
	}, nil
}

func (db *Database) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	return getConversation(ctx, db.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getConversation(ctx context.Context, q queryRower, id int64) (*models.Conversation, error) {
	var (
		conv             models.Conversation
		created, updated int64
	)
	err := q.QueryRowContext(ctx, `
        SELECT id, title, created_at, updated_at
        FROM conversations
        WHERE id = ?`, id).Scan(&conv.ID, &conv.Title, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, models.ConversationNotFound(id)
	}
	if err != nil {
		return nil, storageError("select conversation", err)
	}
	conv.CreatedAt = fromNanos(created)
	conv.UpdatedAt = fromNanos(updated)
	return &conv, nil
}

// AppendMessage stores a message at the end of the conversation. Its
// timestamp is strictly greater than the conversation's creation time and
// every earlier message, even if the wall clock stalls or steps back.
func (db *Database) AppendMessage(ctx context.Context, conversationID int64, role, content string) (*models.Message, error) {
	if strings.TrimSpace(role) == "" {
		return nil, &models.ValidationError{Message: "message role must not be empty"}
	}

	msg := &models.Message{ConvID: conversationID, Role: role, Content: content}
	err := db.withTx(ctx, "append message", func(tx *sql.Tx) error {
		conv, err := getConversation(ctx, tx, conversationID)
		if err != nil {
			return err
		}

		floor := conv.CreatedAt.UnixNano()
		var last sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			`SELECT MAX(timestamp) FROM messages WHERE conversation_id = ?`,
			conversationID,
		).Scan(&last); err != nil {
			return storageError("select last message timestamp", err)
		}
		if last.Valid && last.Int64 > floor {
			floor = last.Int64
		}
		ts := max(db.now().UTC().UnixNano(), floor+1)

		res, err := tx.ExecContext(ctx, `
            INSERT INTO messages (conversation_id, role, content, timestamp)
            VALUES (?, ?, ?, ?)`, conversationID, role, content, ts)
		if err != nil {
			return storageError("insert message", err)
		}
		if msg.ID, err = res.LastInsertId(); err != nil {
			return storageError("read message id", err)
		}
		msg.Timestamp = fromNanos(ts)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListConversations returns every conversation, most recently updated first.
func (db *Database) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	rows, err := db.db.QueryContext(ctx, `
        SELECT id, title, created_at, updated_at
        FROM conversations
        ORDER BY updated_at DESC, id DESC`)
	if err != nil {
		return nil, storageError("select conversations", err)
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var (
			conv             models.Conversation
			created, updated int64
		)
		if err := rows.Scan(&conv.ID, &conv.Title, &created, &updated); err != nil {
			return nil, storageError("scan conversation", err)
		}
		conv.CreatedAt = fromNanos(created)
		conv.UpdatedAt = fromNanos(updated)
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterate conversations", err)
	}
	return conversations, nil
}

// ListMessages returns the conversation's messages, oldest first.
func (db *Database) ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	messages := make([]models.Message, 0)
	err := db.withTx(ctx, "list messages", func(tx *sql.Tx) error {
		if _, err := getConversation(ctx, tx, conversationID); err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, `
            SELECT id, conversation_id, role, content, timestamp
            FROM messages
            WHERE conversation_id = ?
            ORDER BY timestamp ASC, id ASC`, conversationID)
		if err != nil {
			return storageError("select messages", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				msg models.Message
				ts  int64
			)
			if err := rows.Scan(&msg.ID, &msg.ConvID, &msg.Role, &msg.Content, &ts); err != nil {
				return storageError("scan message", err)
			}
			msg.Timestamp = fromNanos(ts)
			messages = append(messages, msg)
		}
		if err := rows.Err(); err != nil {
			return storageError("iterate messages", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// TouchConversation moves updated_at forward to now, never behind the newest
// message or the previous value.
func (db *Database) TouchConversation(ctx context.Context, id int64) error {
	now := db.now().UTC().UnixNano()
	res, err := db.db.ExecContext(ctx, `
        UPDATE conversations
        SET updated_at = MAX(?, updated_at,
            COALESCE((SELECT MAX(timestamp) FROM messages WHERE conversation_id = ?), 0))
        WHERE id = ?`, now, id, id)
	if err != nil {
		return storageError("touch conversation", err)
	}
	return requireRow(res, id)
}

func (db *Database) RenameConversation(ctx context.Context, id int64, title string) error {
	title, err := validTitle(title)
	if err != nil {
		return err
	}
	res, err := db.db.ExecContext(ctx, "UPDATE conversations SET title = ? WHERE id = ?", title, id)
	if err != nil {
		return storageError("rename conversation", err)
	}
	return requireRow(res, id)
}

// DeleteConversation removes the conversation and all of its messages.
func (db *Database) DeleteConversation(ctx context.Context, id int64) error {
	return db.withTx(ctx, "delete conversation", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
			return storageError("delete messages", err)
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
		if err != nil {
			return storageError("delete conversation", err)
		}
		return requireRow(res, id)
	})
}

func validTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", &models.ValidationError{Message: "conversation title must not be empty"}
	}
	return title, nil
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storageError("rows affected", err)
	}
	if n == 0 {
		return models.ConversationNotFound(id)
	}
	return nil
}

func storageError(op string, err error) error {
	return &models.StorageError{Message: "failed to " + op, Err: err}
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
