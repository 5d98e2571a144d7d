package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/wharfd/wharf/pkg/log"
)

// DefaultStaleAfter is how old a held lock record may become before a new
// process treats the holder as crashed and reclaims the lock.
const DefaultStaleAfter = time.Hour

// HeldError is returned when another live process holds the lock.
type HeldError struct {
	Record *Record
}

func (e *HeldError) Error() string {
	if e.Record == nil {
		return "another instance is already running"
	}
	return fmt.Sprintf("another instance is already running: pid %d (%s, operation %q, since %s)",
		e.Record.PID, e.Record.Cmdline, e.Record.Operation,
		e.Record.AcquiredAt.Format(time.RFC3339))
}

// Record identifies the holder of the fleet lock. It is the only durable
// artifact of an in-flight mutating operation and exists exactly as long
// as the operation runs.
type Record struct {
	PID        int       `json:"pid"`
	Cmdline    string    `json:"cmdline"`
	Operation  string    `json:"operation"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Manager serializes mutating operations across process invocations via an
// exclusively-held lock file.
type Manager struct {
	path       string
	staleAfter time.Duration
}

// NewManager creates a lock manager for the given lock file path.
func NewManager(path string, staleAfter time.Duration) *Manager {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Manager{path: path, staleAfter: staleAfter}
}

// Acquire takes the exclusive fleet lock for the named operation. It fails
// with a HeldError while another live holder exists. A holder whose record
// is older than the staleness threshold is presumed crashed: the lock is
// forcibly reclaimed and a warning is surfaced to the operator, trading
// strict mutual exclusion for liveness.
//
// The returned release function must run on every exit path of the guarded
// operation; deferring it immediately after a successful Acquire is the
// expected usage.
func (m *Manager) Acquire(operation string) (release func(), err error) {
	logger := log.WithComponent("lock")

	f, err := m.tryLock()
	if err != nil {
		var held *HeldError
		if !errors.As(err, &held) {
			return nil, err
		}
		if held.Record == nil || time.Since(held.Record.AcquiredAt) < m.staleAfter {
			return nil, err
		}
		// The record outlived the staleness threshold. The holder is
		// presumed dead even though its lock file descriptor may linger;
		// replace the file so a fresh flock can succeed.
		logger.Warn().
			Int("pid", held.Record.PID).
			Str("operation", held.Record.Operation).
			Time("acquired_at", held.Record.AcquiredAt).
			Msg("reclaiming stale lock from presumed-crashed holder")
		if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reclaiming stale lock: %w", err)
		}
		f, err = m.tryLock()
		if err != nil {
			return nil, err
		}
	}

	record := &Record{
		PID:        os.Getpid(),
		Cmdline:    processCmdline(),
		Operation:  operation,
		AcquiredAt: time.Now(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Truncate(0); err == nil {
		_, err = f.WriteAt(data, 0)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("writing lock record: %w", err)
	}
	_ = f.Sync()

	logger.Debug().Str("operation", operation).Str("path", m.path).Msg("lock acquired")

	return func() {
		// Remove the record before dropping the flock so a concurrent
		// acquirer never observes our record without a live holder.
		if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Msg("failed to remove lock file")
		}
		if err := f.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close lock file")
		}
	}, nil
}

// Holder returns the current lock record, or nil when the lock is free.
// Read-only operations use this to warn about concurrent mutations without
// taking the lock themselves.
func (m *Manager) Holder() (*Record, error) {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parseRecord(data), nil
}

// tryLock opens the lock file and attempts a non-blocking exclusive flock.
func (m *Manager) tryLock() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		record := m.readRecord(f)
		f.Close()
		return nil, &HeldError{Record: record}
	}
	return f, nil
}

func (m *Manager) readRecord(f *os.File) *Record {
	data := make([]byte, 4096)
	n, err := f.ReadAt(data, 0)
	if n == 0 && err != nil {
		return nil
	}
	return parseRecord(data[:n])
}

func parseRecord(data []byte) *Record {
	var record Record
	if err := json.Unmarshal(data, &record); err != nil || record.PID == 0 {
		return nil
	}
	// A live record from a dead PID still counts as held until the
	// staleness threshold: the PID check is advisory (PIDs get reused).
	if err := unix.Kill(record.PID, 0); err == unix.ESRCH {
		logger := log.WithComponent("lock")
		logger.Debug().
			Int("pid", record.PID).
			Msg("lock record names a process that no longer exists")
	}
	return &record
}

func processCmdline() string {
	data, err := os.ReadFile("/proc/self/cmdline")
	if err != nil {
		return strings.Join(os.Args, " ")
	}
	return strings.TrimRight(strings.ReplaceAll(string(data), "\x00", " "), " ")
}
