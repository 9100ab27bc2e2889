package scheduler

import (
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// TriggerRegistry owns the cron entries installed per user.
// Install and Uninstall are its only mutators.
type TriggerRegistry struct {
	mu      sync.Mutex
	entries map[uuid.UUID][]cron.EntryID
}

func NewTriggerRegistry() *TriggerRegistry {
	return &TriggerRegistry{entries: make(map[uuid.UUID][]cron.EntryID)}
}

// Install records the entries of a user and returns the ones they replace.
func (r *TriggerRegistry) Install(userID uuid.UUID, ids []cron.EntryID) []cron.EntryID {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous := r.entries[userID]
	r.entries[userID] = append([]cron.EntryID(nil), ids...)
	return previous
}

// Uninstall forgets the entries of a user and returns them.
func (r *TriggerRegistry) Uninstall(userID uuid.UUID) ([]cron.EntryID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids, ok := r.entries[userID]
	delete(r.entries, userID)
	return ids, ok
}

func (r *TriggerRegistry) IsInstalled(userID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[userID]
	return ok
}

func (r *TriggerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
