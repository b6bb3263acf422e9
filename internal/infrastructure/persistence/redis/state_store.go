package redis

import (
	"context"
	"errors"

	"github.com/velasquezhn3/chatbotwhatsapp/internal/domain/guardian"
)

// StateStore implements guardian.StateStore on top of the generic Store.
type StateStore struct {
	store *Store
}

// NewStateStore creates a new StateStore.
func NewStateStore(store *Store) *StateStore {
	return &StateStore{store: store}
}

// Get returns the stored conversation state for a user.
// An unrecognized state value in the record collapses to the initial state.
func (s *StateStore) Get(ctx context.Context, userID string) (*guardian.State, error) {
	var st guardian.State
	err := s.store.Get(ctx, ConversationKey(userID), &st)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, guardian.ErrStateNotFound
		}
		return nil, err
	}

	st.UserID = userID
	st.Normalize()
	return &st, nil
}

// Put stores the conversation state, replacing any previous value.
// Conversation state never expires.
func (s *StateStore) Put(ctx context.Context, st *guardian.State) error {
	return s.store.Set(ctx, ConversationKey(st.UserID), st, 0)
}
