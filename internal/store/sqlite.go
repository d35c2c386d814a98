package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/capitalize-ai/support-widget/internal/model"
)

var _ Repository = (*SQLiteStore)(nil)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS chatbots (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chatbot_characteristics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chatbot_id INTEGER NOT NULL REFERENCES chatbots(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_characteristics_chatbot ON chatbot_characteristics(chatbot_id);

	CREATE TABLE IF NOT EXISTS chat_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chatbot_id INTEGER NOT NULL REFERENCES chatbots(id),
		visitor_name TEXT NOT NULL,
		visitor_email TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_session_id INTEGER NOT NULL REFERENCES chat_sessions(id),
		sender TEXT NOT NULL,
		content TEXT NOT NULL,
		client_ref TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(chat_session_id, created_at, id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_ref ON messages(chat_session_id, client_ref, sender)
		WHERE client_ref IS NOT NULL;
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetChatbotByID retrieves a chatbot with its characteristics.
func (s *SQLiteStore) GetChatbotByID(ctx context.Context, id int64) (*model.Chatbot, error) {
	var (
		bot       model.Chatbot
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM chatbots WHERE id = ?`, id,
	).Scan(&bot.ID, &bot.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chatbot %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan chatbot row: %w", err)
	}
	bot.CreatedAt = time.UnixMilli(createdAt).UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, created_at FROM chatbot_characteristics
		WHERE chatbot_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("query characteristics: %w", err)
	}
	defer rows.Close()

	bot.Characteristics = []model.Characteristic{}
	for rows.Next() {
		c := model.Characteristic{ChatbotID: id}
		var at int64
		if err := rows.Scan(&c.ID, &c.Content, &at); err != nil {
			return nil, fmt.Errorf("scan characteristic row: %w", err)
		}
		c.CreatedAt = time.UnixMilli(at).UTC()
		bot.Characteristics = append(bot.Characteristics, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate characteristics: %w", err)
	}

	return &bot, nil
}

// PutChatbot creates or replaces a chatbot and its characteristics.
func (s *SQLiteStore) PutChatbot(ctx context.Context, chatbot *model.Chatbot) error {
	if chatbot.CreatedAt.IsZero() {
		chatbot.CreatedAt = s.now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chatbots (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		chatbot.ID, chatbot.Name, chatbot.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert chatbot: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chatbot_characteristics WHERE chatbot_id = ?`, chatbot.ID,
	); err != nil {
		return fmt.Errorf("clear characteristics: %w", err)
	}

	for i := range chatbot.Characteristics {
		c := &chatbot.Characteristics[i]
		if c.CreatedAt.IsZero() {
			c.CreatedAt = chatbot.CreatedAt
		}
		c.ChatbotID = chatbot.ID
		res, err := tx.ExecContext(ctx, `
			INSERT INTO chatbot_characteristics (chatbot_id, content, created_at) VALUES (?, ?, ?)`,
			chatbot.ID, c.Content, c.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert characteristic: %w", err)
		}
		if c.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("get characteristic id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chatbot: %w", err)
	}
	return nil
}

// CreateChatSession stores a new session and assigns its ID and CreatedAt.
func (s *SQLiteStore) CreateChatSession(ctx context.Context, session *model.ChatSession) error {
	session.CreatedAt = s.now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (chatbot_id, visitor_name, visitor_email, created_at)
		VALUES (?, ?, ?, ?)`,
		session.ChatbotID, session.Visitor.Name, session.Visitor.Email, session.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert chat session: %w", err)
	}
	if session.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("get chat session id: %w", err)
	}
	return nil
}

// GetChatSession retrieves a chat session by ID.
func (s *SQLiteStore) GetChatSession(ctx context.Context, id int64) (*model.ChatSession, error) {
	var (
		session   model.ChatSession
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, chatbot_id, visitor_name, visitor_email, created_at
		FROM chat_sessions WHERE id = ?`, id,
	).Scan(&session.ID, &session.ChatbotID, &session.Visitor.Name, &session.Visitor.Email, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chat session %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat session row: %w", err)
	}
	session.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &session, nil
}

// InsertMessage stores a message and assigns its ID.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *model.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}

	var ref interface{}
	if msg.ClientRef != "" {
		ref = msg.ClientRef
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (chat_session_id, sender, content, client_ref, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		msg.ChatSessionID, string(msg.Sender), msg.Content, ref, msg.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if msg.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("get message id: %w", err)
	}
	return nil
}

// GetMessagesByChatSessionID lists a session's messages in display order.
func (s *SQLiteStore) GetMessagesByChatSessionID(ctx context.Context, sessionID int64) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_session_id, sender, content, client_ref, created_at
		FROM messages WHERE chat_session_id = ?
		ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// FindMessageByClientRef returns the message a sender stored for an exchange ref.
func (s *SQLiteStore) FindMessageByClientRef(ctx context.Context, sessionID int64, ref string, sender model.Sender) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, chat_session_id, sender, content, client_ref, created_at
		FROM messages WHERE chat_session_id = ? AND client_ref = ? AND sender = ?`,
		sessionID, ref, string(sender))

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s/%s: %w", ref, sender, ErrNotFound)
	}
	return msg, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*model.Message, error) {
	var (
		msg       model.Message
		sender    string
		ref       sql.NullString
		createdAt int64
	)
	if err := row.Scan(&msg.ID, &msg.ChatSessionID, &sender, &msg.Content, &ref, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan message row: %w", err)
	}
	msg.Sender = model.Sender(sender)
	msg.ClientRef = ref.String
	msg.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &msg, nil
}
