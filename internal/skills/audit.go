package skills

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// AuditLog is an append-only, hash-chained JSONL record of skill creation
// and dynamic skill runs. Each line carries the hash of the previous one so
// edits to earlier lines are detectable with Verify.
type AuditLog struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewAuditLog opens (lazily) the audit file at path.
func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path, now: time.Now}
}

// Path returns the audit file location.
func (a *AuditLog) Path() string { return a.path }

// Record appends one event. A nil log is a no-op.
func (a *AuditLog) Record(eventType string, fields map[string]any) {
	if a == nil {
		return
	}
	event := map[string]any{
		"time":      a.now().UTC().Format(time.RFC3339Nano),
		"eventType": strings.TrimSpace(eventType),
	}
	for k, v := range fields {
		event[k] = v
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := appendChainedAuditLine(a.path, event); err != nil {
		slog.Warn("Failed to write skill audit line", "path", a.path, "error", err)
	}
}

// Verify walks the chain and returns the number of valid lines, or an
// error naming the first broken line.
func (a *AuditLog) Verify() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	var prev string
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		n++
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			return n - 1, fmt.Errorf("line %d: %w", n, err)
		}
		if got := toString(obj["prevHash"]); got != prev {
			return n - 1, fmt.Errorf("line %d: chain broken", n)
		}
		hash := toString(obj["hash"])
		if computeAuditHash(obj) != hash {
			return n - 1, fmt.Errorf("line %d: hash mismatch", n)
		}
		prev = hash
	}
	return n, sc.Err()
}

func appendChainedAuditLine(path string, payload any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	entry, err := normalizeAuditPayload(payload)
	if err != nil {
		return err
	}
	prevHash, err := readLastAuditHash(path)
	if err != nil {
		return err
	}
	if prevHash != "" {
		entry["prevHash"] = prevHash
	}
	entry["hash"] = computeAuditHash(entry)
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

func normalizeAuditPayload(payload any) (map[string]any, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	delete(out, "hash")
	delete(out, "prevHash")
	return out, nil
}

func readLastAuditHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	var last string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			last = line
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	if last == "" {
		return "", nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(last), &obj); err != nil {
		return "", fmt.Errorf("invalid existing audit line: %w", err)
	}
	return toString(obj["hash"]), nil
}

func computeAuditHash(entry map[string]any) string {
	canonical := make(map[string]any, len(entry))
	for k, v := range entry {
		if k == "hash" {
			continue
		}
		canonical[k] = v
	}
	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func toString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
