// Package store holds the in-memory user state behind a serialized-access
// API. Every mutation goes through the store mutex and is flushed to a JSON
// snapshot on disk before the mutating call returns, so the two periodic
// monitors and the inbound-action handlers never observe half-applied state.
package store

import (
	"encoding/json"
	"log"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"hostwarden/models"
)

// Store is the single source of truth for user profiles.
type Store struct {
	fs   afero.Fs
	path string

	mu    sync.Mutex
	users map[string]*models.UserProfile
}

// Open loads the state snapshot at path. A missing or unreadable file starts
// an empty store; corruption is logged, never fatal.
func Open(fs afero.Fs, path string) (*Store, error) {
	s := &Store{
		fs:    fs,
		path:  path,
		users: make(map[string]*models.UserProfile),
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		// First run, or the file went away; both start empty.
		return s, nil
	}
	if err := json.Unmarshal(data, &s.users); err != nil {
		log.Printf("[store] state file %s is corrupt, starting empty: %v", path, err)
		s.users = make(map[string]*models.UserProfile)
	}
	return s, nil
}

// Get returns a deep copy of the profile for userID.
func (s *Store) Get(userID string) (models.UserProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return models.UserProfile{}, false
	}
	return copyProfile(u), true
}

// Snapshot returns a deep copy of all profiles, keyed by user id. Monitors
// iterate the copy so notification sends never happen under the store lock.
func (s *Store) Snapshot() map[string]models.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]models.UserProfile, len(s.users))
	for id, u := range s.users {
		out[id] = copyProfile(u)
	}
	return out
}

// Update applies fn to the profile for userID, creating an empty profile if
// the user is new. When fn returns nil the whole state is persisted; when fn
// returns an error the mutation is kept in memory only if fn already applied
// it, so fn must mutate nothing on its error paths.
func (s *Store) Update(userID string, fn func(*models.UserProfile) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		u = &models.UserProfile{}
		s.users[userID] = u
	}
	if err := fn(u); err != nil {
		return err
	}
	s.saveLocked()
	return nil
}

// UpdateAll gives fn the live user map under the store lock. fn reports
// whether it changed anything; the state is persisted once when it did.
// Used by the datacenter monitor to converge every baseline in one flush.
func (s *Store) UpdateAll(fn func(users map[string]*models.UserProfile) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fn(s.users) {
		s.saveLocked()
	}
}

// Block marks a user as unreachable, suppressing all proactive sends.
func (s *Store) Block(userID string) {
	changed := false
	s.UpdateAll(func(users map[string]*models.UserProfile) bool {
		u, ok := users[userID]
		if !ok || u.Blocked {
			return false
		}
		u.Blocked = true
		changed = true
		return true
	})
	if changed {
		log.Printf("[store] user %s marked blocked after permanent delivery failure", userID)
	}
}

// Unblock clears the blocked flag. Called at the top of every inbound
// action: any successful contact from the user proves they are reachable.
func (s *Store) Unblock(userID string) {
	s.UpdateAll(func(users map[string]*models.UserProfile) bool {
		u, ok := users[userID]
		if !ok || !u.Blocked {
			return false
		}
		u.Blocked = false
		return true
	})
}

// saveLocked rewrites the snapshot in full. Write failures are logged and
// swallowed: the in-memory state stays authoritative and the next
// successful write carries every accumulated change.
func (s *Store) saveLocked() {
	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		log.Printf("[store] marshal state: %v", err)
		return
	}

	tmp := s.path + ".tmp"
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			log.Printf("[store] create state directory: %v", err)
			return
		}
	}
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		log.Printf("[store] write state: %v", err)
		return
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		log.Printf("[store] replace state file: %v", err)
	}
}

func copyProfile(u *models.UserProfile) models.UserProfile {
	out := *u
	out.Machines = make([]models.MachineRecord, len(u.Machines))
	copy(out.Machines, u.Machines)
	for i := range out.Machines {
		if ts := u.Machines[i].LastReminderSentAt; ts != nil {
			t := *ts
			out.Machines[i].LastReminderSentAt = &t
		}
	}
	if u.LastKnownTotal != nil {
		v := *u.LastKnownTotal
		out.LastKnownTotal = &v
	}
	return out
}
