package telegram

import (
	"sync"
	"time"
)

// pendingTTL drops inputs the user abandoned
const pendingTTL = 30 * time.Minute

type pendingKind int

const (
	pendingTaskFile  pendingKind = iota + 1 // id = account id
	pendingCheckFile                        // no id
	pendingReply                            // id = incoming message id
)

// pendingAction is what the next free-form message of a user is for
type pendingAction struct {
	kind    pendingKind
	id      int64
	expires time.Time
}

// pendingStore keeps one pending action per user. Setting a new action
// replaces the previous one.
type pendingStore struct {
	mu      sync.Mutex
	actions map[int64]pendingAction
	now     func() time.Time
}

func newPendingStore() *pendingStore {
	return &pendingStore{
		actions: make(map[int64]pendingAction),
		now:     time.Now,
	}
}

func (s *pendingStore) set(userID int64, kind pendingKind, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[userID] = pendingAction{kind: kind, id: id, expires: s.now().Add(pendingTTL)}
}

func (s *pendingStore) get(userID int64) (pendingAction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	action, ok := s.actions[userID]
	if !ok {
		return pendingAction{}, false
	}
	if s.now().After(action.expires) {
		delete(s.actions, userID)
		return pendingAction{}, false
	}
	return action, true
}

func (s *pendingStore) clear(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.actions[userID]
	delete(s.actions, userID)
	return ok
}
