package timeline

import (
	"time"
)

// Message is one line of the platform conversation log. Both user messages
// and bot replies are recorded; rows are never deleted.
type Message struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Content   string    `json:"content"`
	IsBot     bool      `json:"is_bot"`
	BotName   string    `json:"bot_name,omitempty"`
}

// JobRun records one scheduled job execution.
type JobRun struct {
	ID         int64     `json:"id"`
	Job        string    `json:"job"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Status     string    `json:"status"`
	ErrorText  string    `json:"error_text,omitempty"`
}

// Schema is applied on every open.
const Schema = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	channel_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	user_name TEXT NOT NULL,
	content TEXT NOT NULL,
	is_bot BOOLEAN NOT NULL DEFAULT 0,
	bot_name TEXT
);
CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id, timestamp);

CREATE TABLE IF NOT EXISTS job_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error_text TEXT
);
CREATE INDEX IF NOT EXISTS idx_job_runs_job ON job_runs(job, started_at);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`
