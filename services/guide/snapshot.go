package guide

import (
	"sync/atomic"

	"tvguide/models"
)

// Store holds the published guide snapshot. Readers never block and always
// see either the previous or the new snapshot in full.
type Store struct {
	current atomic.Pointer[models.GuideSnapshot]
}

func NewStore() *Store {
	return &Store{}
}

// Current returns the published snapshot. ok is false until the first
// successful refresh.
func (s *Store) Current() (snap *models.GuideSnapshot, ok bool) {
	snap = s.current.Load()
	return snap, snap != nil
}

// Publish replaces the current snapshot. The caller must not modify snap
// afterwards.
func (s *Store) Publish(snap *models.GuideSnapshot) {
	if snap == nil {
		return
	}
	s.current.Store(snap)
}
