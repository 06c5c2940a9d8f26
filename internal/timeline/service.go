package timeline

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	defaultHistoryLimit = 50
	defaultSearchLimit  = 20
)

// TimelineService is the persistent message log.
type TimelineService struct {
	db  *sql.DB
	now func() time.Time
}

func NewTimelineService(dbPath string) (*TimelineService, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create timeline dir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open timeline db: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &TimelineService{db: db, now: time.Now}, nil
}

func (s *TimelineService) DB() *sql.DB { return s.db }

func (s *TimelineService) Close() error {
	return s.db.Close()
}

// SaveMessage appends msg and returns its row id. A zero Timestamp is
// stamped with the current UTC time.
func (s *TimelineService) SaveMessage(msg *Message) (int64, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now().UTC()
	}
	var botName any
	if msg.BotName != "" {
		botName = msg.BotName
	}
	res, err := s.db.Exec(`
	INSERT INTO messages (timestamp, channel_id, user_id, user_name, content, is_bot, bot_name)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.Timestamp, msg.ChannelID, msg.UserID, msg.UserName, msg.Content, msg.IsBot, botName)
	if err != nil {
		return 0, fmt.Errorf("save message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	msg.ID = id
	return id, nil
}

// GetMessages returns the latest limit messages of a channel, oldest first.
func (s *TimelineService) GetMessages(channelID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := s.db.Query(`
	SELECT id, timestamp, channel_id, user_id, user_name, content, is_bot, COALESCE(bot_name,'')
	FROM messages WHERE channel_id = ?
	ORDER BY timestamp DESC, id DESC LIMIT ?`, channelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// SearchMessages returns messages whose content contains query, newest
// first. LIKE wildcards in query match literally.
func (s *TimelineService) SearchMessages(query string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	rows, err := s.db.Query(`
	SELECT id, timestamp, channel_id, user_id, user_name, content, is_bot, COALESCE(bot_name,'')
	FROM messages WHERE content LIKE ? ESCAPE '\'
	ORDER BY timestamp DESC, id DESC LIMIT ?`, "%"+escapeLike(query)+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// CountMessages returns the total row count.
func (s *TimelineService) CountMessages() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Timestamp, &m.ChannelID, &m.UserID, &m.UserName, &m.Content, &m.IsBot, &m.BotName); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// RecordJobRun stores the outcome of a scheduled job.
func (s *TimelineService) RecordJobRun(job, status string, startedAt time.Time, duration time.Duration, errText string) error {
	_, err := s.db.Exec(`
	INSERT INTO job_runs (job, started_at, duration_ms, status, error_text)
	VALUES (?, ?, ?, ?, ?)`, job, startedAt.UTC(), duration.Milliseconds(), status, errText)
	return err
}

// ListJobRuns returns the latest runs, newest first. An empty job lists
// every job.
func (s *TimelineService) ListJobRuns(job string, limit int) ([]JobRun, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	query := `SELECT id, job, started_at, duration_ms, status, COALESCE(error_text,'') FROM job_runs`
	args := []any{}
	if job != "" {
		query += " WHERE job = ?"
		args = append(args, job)
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []JobRun
	for rows.Next() {
		var r JobRun
		if err := rows.Scan(&r.ID, &r.Job, &r.StartedAt, &r.DurationMs, &r.Status, &r.ErrorText); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetSetting returns a setting value by key.
func (s *TimelineService) GetSetting(key string) (string, error) {
	var val string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return val, err
}

// SetSetting upserts a setting.
func (s *TimelineService) SetSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`, key, value)
	return err
}
