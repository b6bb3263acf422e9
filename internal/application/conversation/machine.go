// Package conversation implements the dialogue automaton that answers
// guardians about tuition payments.
//
// The automaton is a pure-ish transition function: it reads collaborators to
// decide, but every side effect comes out as an Action executed by the
// Service. This keeps the whole dialogue unit-testable without a live
// channel.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/velasquezhn3/chatbotwhatsapp/internal/domain/billing"
	"github.com/velasquezhn3/chatbotwhatsapp/internal/domain/guardian"
	"github.com/velasquezhn3/chatbotwhatsapp/internal/domain/student"
	"github.com/velasquezhn3/chatbotwhatsapp/internal/interface/chat"
	"github.com/velasquezhn3/chatbotwhatsapp/pkg/timeutil"
)

// BroadcastCommand is the reserved prefix for the one-shot administrative
// broadcast, runnable from any state.
const BroadcastCommand = "/aviso"

// ═══════════════════════════════════════════════════════════════════════════
// ACTIONS
// ═══════════════════════════════════════════════════════════════════════════

// Action is one side effect requested by a transition. The set is closed;
// the Service executes them in order.
type Action interface {
	isAction()
}

// SendText sends a text message to the current user.
type SendText struct {
	Text string
}

// SendContent sends arbitrary content to the current user.
type SendContent struct {
	Content chat.Content
}

// ScheduleMenu asks for a delayed MAIN_MENU render, cancelled if the user
// writes again first.
type ScheduleMenu struct{}

// CreateLink registers a guardian↔student link for the current user.
type CreateLink struct {
	StudentID student.ID
	PINHash   string
}

// DeleteLink removes the current user's link to a student.
type DeleteLink struct {
	StudentID student.ID
}

// Broadcast fans content out to every known guardian.
type Broadcast struct {
	Content chat.Content
}

func (SendText) isAction()     {}
func (SendContent) isAction()  {}
func (ScheduleMenu) isAction() {}
func (CreateLink) isAction()   {}
func (DeleteLink) isAction()   {}
func (Broadcast) isAction()    {}

// ═══════════════════════════════════════════════════════════════════════════
// ENVIRONMENT
// ═══════════════════════════════════════════════════════════════════════════

// LinkReader is the read side of the link repository.
type LinkReader interface {
	ListByUser(ctx context.Context, userID string) ([]*guardian.Link, error)
}

// MediaStore serves path-addressed binary resources (the cached schedule
// document).
type MediaStore interface {
	Get(ctx context.Context, path string) ([]byte, error)
}

// Env carries the read-only collaborators and per-message facts a transition
// needs.
type Env struct {
	Now     time.Time
	IsAdmin bool
	Ledger  student.Ledger
	Links   LinkReader

	// Media and SchedulePath are optional; when unset the schedule panel is
	// text only.
	Media        MediaStore
	SchedulePath string
}

// ═══════════════════════════════════════════════════════════════════════════
// TRANSITION
// ═══════════════════════════════════════════════════════════════════════════

// Transition handles one inbound message: pre-dispatch hooks first, then the
// current state's contract. It returns the next state and the actions to
// execute. A non-nil error reports an infrastructure failure that was
// already translated into a user-facing action; the caller only logs it.
func Transition(ctx context.Context, st guardian.State, msg chat.Message, env Env) (guardian.State, []Action, error) {
	st.Normalize()
	text := strings.TrimSpace(msg.Content.Text)

	// Daily greeting: the day's first message greets, renders the menu and
	// skips dispatch entirely, so whatever the user typed is never flagged
	// as invalid.
	if today := timeutil.DateKey(env.Now); st.LastGreeting != today {
		st.LastGreeting = today
		toMainMenu(&st)
		return st, []Action{
			SendText{msgGreeting},
			SendText{mainMenu(env.IsAdmin)},
		}, nil
	}

	// Keyword override: "menu" escapes any state.
	if foldAccents(strings.ToLower(text)) == "menu" {
		toMainMenu(&st)
		return st, []Action{SendText{mainMenu(env.IsAdmin)}}, nil
	}

	// One-shot broadcast command, any state, admins only.
	if isBroadcastCommand(text) {
		return broadcastCommand(st, msg, text, env)
	}

	switch st.Name {
	case guardian.StateMainMenu:
		return mainMenuState(ctx, st, text, env)
	case guardian.StateAwaitID:
		return awaitIDState(ctx, st, text, env)
	case guardian.StateAwaitPIN:
		return awaitPINState(ctx, st, text, env)
	case guardian.StateSelectStudent:
		return selectStudentState(ctx, st, text, env)
	case guardian.StateRemoveStudent:
		return removeStudentState(ctx, st, text, env)
	case guardian.StateAdminBroadcast:
		return adminBroadcastState(st, msg)
	default:
		toMainMenu(&st)
		return st, []Action{SendText{mainMenu(env.IsAdmin)}}, nil
	}
}

// ───────────────────────────────────────────────────────────────────────────
// Pre-dispatch hooks
// ───────────────────────────────────────────────────────────────────────────

func isBroadcastCommand(text string) bool {
	lower := strings.ToLower(text)
	return lower == BroadcastCommand || strings.HasPrefix(lower, BroadcastCommand+" ")
}

func broadcastCommand(st guardian.State, msg chat.Message, text string, env Env) (guardian.State, []Action, error) {
	if !env.IsAdmin {
		return st, []Action{SendText{msgBroadcastDenied}}, nil
	}

	payload := strings.TrimSpace(text[len(BroadcastCommand):])
	content := msg.Content
	content.Text = payload
	if content.Kind == chat.KindText && payload == "" {
		return st, []Action{SendText{msgBroadcastUsage}}, nil
	}
	return st, []Action{Broadcast{content}}, nil
}

// ───────────────────────────────────────────────────────────────────────────
// Per-state contracts
// ───────────────────────────────────────────────────────────────────────────

func mainMenuState(ctx context.Context, st guardian.State, text string, env Env) (guardian.State, []Action, error) {
	switch text {
	case "1":
		return pickStudent(ctx, st, env, guardian.StateSelectStudent,
			"Sus estudiantes registrados:")

	case "2":
		st.Name = guardian.StateAwaitID
		return st, []Action{SendText{msgAskID}}, nil

	case "3":
		return pickStudent(ctx, st, env, guardian.StateRemoveStudent,
			"¿Cuál registro desea eliminar?")

	case "4":
		return schedulePanel(ctx, st, env)

	case "5":
		return st, []Action{SendText{panelPayments}}, nil

	case "6":
		if env.IsAdmin {
			st.Name = guardian.StateAdminBroadcast
			return st, []Action{SendText{msgBroadcastPrompt}}, nil
		}
		// Invisible to everyone else: same treatment as an unknown option.
	}

	return st, []Action{
		SendText{msgInvalidOption},
		SendText{mainMenu(env.IsAdmin)},
	}, nil
}

// pickStudent moves to a selection state over the user's registered
// students, or reports that there are none.
func pickStudent(ctx context.Context, st guardian.State, env Env, next guardian.StateName, header string) (guardian.State, []Action, error) {
	links, err := env.Links.ListByUser(ctx, st.UserID)
	if err != nil {
		return st, []Action{SendText{msgServiceUnavailable}}, fmt.Errorf("list links: %w", err)
	}
	if len(links) == 0 {
		return st, []Action{SendText{msgNoStudents}}, nil
	}

	ids := make([]student.ID, 0, len(links))
	labels := make([]string, 0, len(links))
	for _, link := range links {
		ids = append(ids, link.StudentID)
		labels = append(labels, studentLabel(ctx, env, link.StudentID))
	}

	st.Name = next
	st.Candidates = ids
	return st, []Action{SendText{candidateList(header, labels)}}, nil
}

func schedulePanel(ctx context.Context, st guardian.State, env Env) (guardian.State, []Action, error) {
	actions := []Action{SendText{panelSchedule}}
	if env.Media == nil || env.SchedulePath == "" {
		return st, actions, nil
	}

	data, err := env.Media.Get(ctx, env.SchedulePath)
	if err != nil {
		return st, actions, fmt.Errorf("fetch schedule document: %w", err)
	}
	actions = append(actions, SendContent{
		chat.Document(data, "application/pdf", "horario.pdf"),
	})
	return st, actions, nil
}

func awaitIDState(ctx context.Context, st guardian.State, text string, env Env) (guardian.State, []Action, error) {
	id := student.ID(text)
	if !id.IsValid() {
		return st, []Action{SendText{msgInvalidID}}, nil
	}

	s, err := env.Ledger.FindStudent(ctx, id)
	switch {
	case errors.Is(err, student.ErrStudentNotFound):
		return st, []Action{SendText{msgStudentNotFound}}, nil
	case err != nil:
		return st, []Action{SendText{msgServiceUnavailable}}, fmt.Errorf("ledger lookup: %w", err)
	}

	st.Name = guardian.StateAwaitPIN
	st.PendingID = id
	return st, []Action{SendText{msgAskPIN(s.Name)}}, nil
}

func awaitPINState(ctx context.Context, st guardian.State, text string, env Env) (guardian.State, []Action, error) {
	s, err := env.Ledger.FindStudent(ctx, st.PendingID)
	if err != nil {
		return st, []Action{SendText{msgServiceUnavailable}}, fmt.Errorf("ledger lookup: %w", err)
	}

	if s.PIN == "" || text != s.PIN {
		return st, []Action{SendText{msgInvalidPIN}}, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(text), bcrypt.DefaultCost)
	if err != nil {
		return st, []Action{SendText{msgServiceUnavailable}}, fmt.Errorf("hash pin: %w", err)
	}

	id := st.PendingID
	toMainMenu(&st)
	return st, []Action{
		CreateLink{StudentID: id, PINHash: string(hash)},
		SendText{msgRegistered(s.Name)},
		ScheduleMenu{},
	}, nil
}

func selectStudentState(ctx context.Context, st guardian.State, text string, env Env) (guardian.State, []Action, error) {
	id, ok := pickCandidate(st, text)
	if !ok {
		return st, []Action{SendText{msgInvalidSelection}}, nil
	}

	s, err := env.Ledger.FindStudent(ctx, id)
	switch {
	case errors.Is(err, student.ErrStudentNotFound):
		toMainMenu(&st)
		return st, []Action{SendText{msgStudentNotFound}, ScheduleMenu{}}, nil
	case err != nil:
		return st, []Action{SendText{msgServiceUnavailable}}, fmt.Errorf("ledger lookup: %w", err)
	}

	summary := billing.CalculateDebt(s, env.Now)
	toMainMenu(&st)
	return st, []Action{
		SendText{debtSummary(s.Name, summary)},
		ScheduleMenu{},
	}, nil
}

func removeStudentState(ctx context.Context, st guardian.State, text string, env Env) (guardian.State, []Action, error) {
	id, ok := pickCandidate(st, text)
	if !ok {
		return st, []Action{SendText{msgInvalidSelection}}, nil
	}

	label := studentLabel(ctx, env, id)
	toMainMenu(&st)
	return st, []Action{
		DeleteLink{StudentID: id},
		SendText{msgRemoved(label)},
		ScheduleMenu{},
	}, nil
}

func adminBroadcastState(st guardian.State, msg chat.Message) (guardian.State, []Action, error) {
	content := msg.Content
	toMainMenu(&st)
	return st, []Action{
		Broadcast{content},
		ScheduleMenu{},
	}, nil
}

// ───────────────────────────────────────────────────────────────────────────
// Helpers
// ───────────────────────────────────────────────────────────────────────────

func toMainMenu(st *guardian.State) {
	st.Name = guardian.StateMainMenu
	st.PendingID = ""
	st.Candidates = nil
}

// pickCandidate resolves a 1-based index into the carried candidate list.
func pickCandidate(st guardian.State, text string) (student.ID, bool) {
	idx, err := strconv.Atoi(text)
	if err != nil || idx < 1 || idx > len(st.Candidates) {
		return "", false
	}
	return st.Candidates[idx-1], true
}

// studentLabel renders "name (id)" when the ledger knows the student, the
// bare id otherwise. Lookup failures here never block the flow.
func studentLabel(ctx context.Context, env Env, id student.ID) string {
	s, err := env.Ledger.FindStudent(ctx, id)
	if err != nil {
		return string(id)
	}
	return fmt.Sprintf("%s (%s)", s.Name, id)
}

// foldAccents maps Spanish accented vowels so "menú" matches "menu".
func foldAccents(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case 'á':
			return 'a'
		case 'é':
			return 'e'
		case 'í':
			return 'i'
		case 'ó':
			return 'o'
		case 'ú', 'ü':
			return 'u'
		}
		return r
	}, s)
}
