package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

const lockWriteGrace = 10 * time.Second

// LockOwner is the record an instance writes into the scheduler lock file.
type LockOwner struct {
	PID     int       `json:"pid"`
	Host    string    `json:"host"`
	Started time.Time `json:"started"`
}

// InstanceLock keeps a second gateway on the same home from running the
// scheduled jobs twice. The lock file is created exclusively and holds the
// owner record. A record left by a process that no longer exists on this
// host is stale and is taken over.
type InstanceLock struct {
	path string
	held bool
	// alive reports whether pid is a running process on this host.
	alive func(pid int) bool
}

// NewInstanceLock creates a lock at path.
func NewInstanceLock(path string) *InstanceLock {
	return &InstanceLock{path: path, alive: processAlive}
}

// TryLock acquires the lock without blocking. It returns nil when the lock
// was acquired, or the current owner when another live instance holds it.
func (l *InstanceLock) TryLock() (*LockOwner, error) {
	if l.held {
		return nil, nil
	}
	for attempt := 0; attempt < 2; attempt++ {
		err := l.create()
		if err == nil {
			l.held = true
			return nil, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
		owner, err := readLockOwner(l.path)
		if err != nil {
			return nil, err
		}
		if !l.stale(owner) {
			return owner, nil
		}
		slog.Warn("Removing stale scheduler lock", "lock", l.path, "pid", owner.PID, "since", owner.Started)
		if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	owner, _ := readLockOwner(l.path)
	return owner, nil
}

// Unlock releases the lock and removes the lock file.
func (l *InstanceLock) Unlock() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (l *InstanceLock) create() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	host, _ := os.Hostname()
	werr := json.NewEncoder(f).Encode(LockOwner{PID: os.Getpid(), Host: host, Started: time.Now().UTC()})
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(l.path)
		return fmt.Errorf("write lock owner: %w", werr)
	}
	return nil
}

// stale reports whether the recorded owner is gone. Owners on other hosts
// are never considered stale. A file without a readable record may still be
// being written, so it only counts as stale after lockWriteGrace.
func (l *InstanceLock) stale(owner *LockOwner) bool {
	if owner.PID <= 0 {
		info, err := os.Stat(l.path)
		return err != nil || time.Since(info.ModTime()) > lockWriteGrace
	}
	host, _ := os.Hostname()
	if owner.Host != "" && owner.Host != host {
		return false
	}
	return !l.alive(owner.PID)
}

// readLockOwner decodes the lock file. An unreadable record is returned as
// an owner with PID 0, which counts as stale.
func readLockOwner(path string) (*LockOwner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &LockOwner{}, nil
		}
		return nil, err
	}
	var owner LockOwner
	if err := json.Unmarshal(data, &owner); err != nil {
		return &LockOwner{}, nil
	}
	return &owner, nil
}
