// Package guardian contains the domain model for chat users: the
// guardian↔student links created on registration and the per-conversation
// state driving the dialogue automaton.
package guardian

import (
	"context"
	"errors"
	"time"

	"github.com/velasquezhn3/chatbotwhatsapp/internal/domain/student"
)

// Errors returned by guardian repositories.
var (
	// ErrLinkNotFound is returned when no link matches the query.
	ErrLinkNotFound = errors.New("guardian: link not found")

	// ErrLinkAlreadyExists is returned when the link already exists.
	ErrLinkAlreadyExists = errors.New("guardian: link already exists")

	// ErrStateNotFound is returned when no conversation state is stored
	// for the user.
	ErrStateNotFound = errors.New("guardian: conversation state not found")
)

// ══════════════════════════════════════════════════════════════════════════════
// GUARDIAN LINK
// ══════════════════════════════════════════════════════════════════════════════

// Link associates a chat user identity with a student they registered for.
// The association is many-to-many: one guardian may register several
// students, and siblings share guardians.
type Link struct {
	// ID is the link's unique identifier.
	ID string

	// UserID is the chat user identity (channel-scoped).
	UserID string

	// StudentID is the linked student identity number.
	StudentID student.ID

	// PINHash is the bcrypt hash of the PIN presented at registration.
	// Kept for later ownership re-verification; the clear PIN is never stored.
	PINHash string

	// CreatedAt is when the link was created.
	CreatedAt time.Time
}

// LinkRepository persists guardian↔student links.
type LinkRepository interface {
	// Create stores a new link. Returns ErrLinkAlreadyExists when the
	// (user, student) pair is already linked.
	Create(ctx context.Context, link *Link) error

	// ListByUser returns the user's links ordered by creation time.
	ListByUser(ctx context.Context, userID string) ([]*Link, error)

	// Delete removes the link between a user and a student.
	// Returns ErrLinkNotFound when no such link exists.
	Delete(ctx context.Context, userID string, studentID student.ID) error

	// ListUserIDs returns the distinct user identities holding at least
	// one link. Feeds the administrative broadcast.
	ListUserIDs(ctx context.Context) ([]string, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// CONVERSATION STATE
// ══════════════════════════════════════════════════════════════════════════════

// StateName identifies a dialogue automaton state.
type StateName string

const (
	// StateMainMenu is the initial state: numeric menu dispatch.
	StateMainMenu StateName = "MAIN_MENU"
	// StateAwaitID waits for a student identity number.
	StateAwaitID StateName = "AWAIT_ID"
	// StateAwaitPIN waits for the PIN bound to the carried identity.
	StateAwaitPIN StateName = "AWAIT_PIN"
	// StateSelectStudent waits for a 1-based pick from the carried list
	// to show a ledger status.
	StateSelectStudent StateName = "SELECT_STUDENT"
	// StateRemoveStudent waits for a 1-based pick from the carried list
	// to remove the link.
	StateRemoveStudent StateName = "REMOVE_STUDENT"
	// StateAdminBroadcast forwards every inbound message to all guardians.
	StateAdminBroadcast StateName = "ADMIN_BROADCAST"
)

// IsValid checks that the state name is a defined value.
func (s StateName) IsValid() bool {
	switch s {
	case StateMainMenu, StateAwaitID, StateAwaitPIN,
		StateSelectStudent, StateRemoveStudent, StateAdminBroadcast:
		return true
	default:
		return false
	}
}

// State is the per-user conversation state. One exists per user identity,
// created on first contact, mutated in place on every transition, never
// deleted.
type State struct {
	// UserID is the chat user identity.
	UserID string `json:"user_id"`

	// Name is the current automaton state.
	Name StateName `json:"state"`

	// PendingID carries the identity number between AWAIT_ID and AWAIT_PIN.
	PendingID student.ID `json:"pending_id,omitempty"`

	// Candidates carries the ordered candidate list for the selection states.
	Candidates []student.ID `json:"candidates,omitempty"`

	// LastGreeting is the "YYYY-MM-DD" date stamp of the last daily greeting.
	LastGreeting string `json:"last_greeting,omitempty"`
}

// Normalize collapses an unrecognized state value to the initial state.
// Guards against records written by older versions of the service.
func (s *State) Normalize() {
	if !s.Name.IsValid() {
		s.Name = StateMainMenu
		s.PendingID = ""
		s.Candidates = nil
	}
}

// StateStore persists conversation state keyed by user identity.
type StateStore interface {
	// Get returns the stored state, or ErrStateNotFound.
	Get(ctx context.Context, userID string) (*State, error)

	// Put stores the state, replacing any previous value.
	Put(ctx context.Context, st *State) error
}
