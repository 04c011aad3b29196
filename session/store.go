package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/jpillora/backoff"
)

// ErrLockTimeout is returned when the EA holds the session-file lock past
// the bounded retry budget. Callers must not proceed with stale data.
var ErrLockTimeout = errors.New("session: lock acquisition timed out")

const lockAttempts = 20

// Store reads and writes the session file shared with the MT5 EA.
//
// Every operation takes a short-lived exclusive advisory lock on a sidecar
// lock file next to the session file. Writes always replace the whole
// document so the EA never observes a torn record.
type Store struct {
	path string
	now  func() time.Time
}

// NewStore returns a store for the session file at path.
func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Read returns the current session state. The file is created with defaults
// when missing; fields absent from the on-disk document are backfilled from
// the default record; empty or corrupt content reads as defaults.
func (s *Store) Read() (State, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return s.Reset()
	}

	st := Default()
	err := s.withLock(func() error {
		data, err := os.ReadFile(s.path)
		if err != nil {
			return fmt.Errorf("read session file: %w", err)
		}
		if len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, &st); err != nil {
			// Torn or foreign content: fall back to defaults rather than
			// wedging the poll loop on a file we do not own exclusively.
			st = Default()
		}
		return nil
	})
	if err != nil {
		return State{}, err
	}
	return st, nil
}

// Write replaces the session document with state, stamping the write time.
func (s *Store) Write(state *State) error {
	state.Timestamp = FormatTimestamp(s.now())
	if state.Version == 0 {
		state.Version = Default().Version
	}

	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}

	return s.withLock(func() error {
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open session file: %w", err)
		}
		defer f.Close()

		// Truncate-and-rewrite in place: the EA holds the file open by
		// path, so an atomic rename would strand it on the old inode.
		if err := f.Truncate(0); err != nil {
			return fmt.Errorf("truncate session file: %w", err)
		}
		if _, err := f.Write(payload); err != nil {
			return fmt.Errorf("write session file: %w", err)
		}
		return f.Sync()
	})
}

// Update applies mutate to the current state and persists the result,
// returning the full state that was written.
//
// Update is not atomic with respect to the EA: the lock is taken separately
// for the read and the write, so a concurrent EA write landing in between is
// lost (last writer wins). Accepted because the two writers touch largely
// disjoint field sets.
func (s *Store) Update(mutate func(*State)) (State, error) {
	st, err := s.Read()
	if err != nil {
		return State{}, err
	}
	mutate(&st)
	if err := s.Write(&st); err != nil {
		return State{}, err
	}
	return st, nil
}

// Reset overwrites the session document with the default record.
func (s *Store) Reset() (State, error) {
	st := Default()
	if err := s.Write(&st); err != nil {
		return State{}, err
	}
	return st, nil
}

// withLock runs fn while holding the exclusive advisory lock, retrying
// acquisition with bounded backoff while the EA holds it.
func (s *Store) withLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	fl := flock.New(s.path + ".lock")
	b := &backoff.Backoff{
		Min:    50 * time.Millisecond,
		Max:    250 * time.Millisecond,
		Factor: 2,
		Jitter: true,
	}

	locked := false
	for i := 0; i < lockAttempts; i++ {
		ok, err := fl.TryLock()
		if err != nil {
			return fmt.Errorf("acquire session lock: %w", err)
		}
		if ok {
			locked = true
			break
		}
		time.Sleep(b.Duration())
	}
	if !locked {
		return ErrLockTimeout
	}
	defer fl.Unlock()

	return fn()
}
