package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/velasquezhn3/chatbotwhatsapp/internal/domain/guardian"
	"github.com/velasquezhn3/chatbotwhatsapp/internal/domain/student"
	"github.com/velasquezhn3/chatbotwhatsapp/internal/interface/chat"
	"github.com/velasquezhn3/chatbotwhatsapp/pkg/timeutil"
)

// ───────────────────────────────────────────────────────────────────────────
// Fakes
// ───────────────────────────────────────────────────────────────────────────

type fakeLedger struct {
	students map[student.ID]*student.Student
	err      error
}

func (l *fakeLedger) FindStudent(_ context.Context, id student.ID) (*student.Student, error) {
	if l.err != nil {
		return nil, l.err
	}
	s, ok := l.students[id]
	if !ok {
		return nil, student.ErrStudentNotFound
	}
	return s, nil
}

type fakeLinks struct {
	links []*guardian.Link
	err   error
}

func (r *fakeLinks) ListByUser(_ context.Context, userID string) ([]*guardian.Link, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []*guardian.Link
	for _, l := range r.links {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out, nil
}

// ───────────────────────────────────────────────────────────────────────────
// Fixtures
// ───────────────────────────────────────────────────────────────────────────

const (
	testUser = "50498765432"
	testID   = student.ID("0801201012345")
)

var testNow = timeutil.DateTime(2025, 6, 20, 10, 0, 0)

func testStudent() *student.Student {
	return &student.Student{
		ID:            testID,
		Name:          "Carlos Pineda",
		Grade:         "3RO",
		Plan:          student.PlanA,
		MonthlyAmount: decimal.NewFromInt(500),
		Payments: map[student.Period]string{
			2: "500", 3: "500", 4: "500", 5: "", 6: "",
		},
		PIN: "4821",
	}
}

func testEnv() Env {
	return Env{
		Now:    testNow,
		Ledger: &fakeLedger{students: map[student.ID]*student.Student{testID: testStudent()}},
		Links:  &fakeLinks{},
	}
}

// greeted returns a state whose greeting already fired today, so tests reach
// the per-state contracts directly.
func greeted(name guardian.StateName) guardian.State {
	return guardian.State{
		UserID:       testUser,
		Name:         name,
		LastGreeting: timeutil.DateKey(testNow),
	}
}

func textMsg(text string) chat.Message {
	return chat.Message{From: testUser, Content: chat.Text(text)}
}

func sentTexts(actions []Action) []string {
	var out []string
	for _, a := range actions {
		if s, ok := a.(SendText); ok {
			out = append(out, s.Text)
		}
	}
	return out
}

func hasSchedule(actions []Action) bool {
	for _, a := range actions {
		if _, ok := a.(ScheduleMenu); ok {
			return true
		}
	}
	return false
}

// ───────────────────────────────────────────────────────────────────────────
// Pre-dispatch hooks
// ───────────────────────────────────────────────────────────────────────────

func TestTransition_GreetsOncePerDayAndSkipsDispatch(t *testing.T) {
	st := guardian.State{UserID: testUser, Name: guardian.StateMainMenu}

	// First message of the day: greeting + menu, and the garbage input is
	// never flagged as invalid.
	next, actions, err := Transition(context.Background(), st, textMsg("asdf"), testEnv())
	require.NoError(t, err)
	texts := sentTexts(actions)
	require.Len(t, texts, 2)
	assert.Equal(t, msgGreeting, texts[0])
	assert.Contains(t, texts[1], "Menú principal")
	assert.Equal(t, timeutil.DateKey(testNow), next.LastGreeting)
	assert.Equal(t, guardian.StateMainMenu, next.Name)

	// Second message the same day: no greeting, normal dispatch warns.
	next, actions, err = Transition(context.Background(), next, textMsg("asdf"), testEnv())
	require.NoError(t, err)
	texts = sentTexts(actions)
	require.NotEmpty(t, texts)
	assert.NotEqual(t, msgGreeting, texts[0])
	assert.Equal(t, msgInvalidOption, texts[0])
	_ = next
}

func TestTransition_GreetingFiresAgainNextDay(t *testing.T) {
	st := greeted(guardian.StateAwaitID)
	env := testEnv()
	env.Now = testNow.Add(24 * time.Hour)

	_, actions, err := Transition(context.Background(), st, textMsg("hola"), env)
	require.NoError(t, err)
	texts := sentTexts(actions)
	require.Len(t, texts, 2)
	assert.Equal(t, msgGreeting, texts[0])
}

func TestTransition_MenuKeywordEscapesAnyState(t *testing.T) {
	for _, input := range []string{"menu", "MENU", "Menú", "  menú  "} {
		st := greeted(guardian.StateAwaitPIN)
		st.PendingID = testID

		next, actions, err := Transition(context.Background(), st, textMsg(input), testEnv())
		require.NoError(t, err)
		assert.Equal(t, guardian.StateMainMenu, next.Name, input)
		assert.Empty(t, next.PendingID)
		texts := sentTexts(actions)
		require.Len(t, texts, 1)
		assert.Contains(t, texts[0], "Menú principal")
	}
}

func TestTransition_BroadcastCommandRejectedWithoutPrivilege(t *testing.T) {
	st := greeted(guardian.StateAwaitID)

	next, actions, err := Transition(context.Background(), st, textMsg("/aviso Mañana no hay clases"), testEnv())
	require.NoError(t, err)
	assert.Equal(t, st, next)
	texts := sentTexts(actions)
	require.Len(t, texts, 1)
	assert.Equal(t, msgBroadcastDenied, texts[0])
}

func TestTransition_BroadcastCommandFansOutForAdmin(t *testing.T) {
	st := greeted(guardian.StateMainMenu)
	env := testEnv()
	env.IsAdmin = true

	next, actions, err := Transition(context.Background(), st, textMsg("/aviso Mañana no hay clases"), env)
	require.NoError(t, err)
	assert.Equal(t, st, next)

	require.Len(t, actions, 1)
	b, ok := actions[0].(Broadcast)
	require.True(t, ok)
	assert.Equal(t, chat.KindText, b.Content.Kind)
	assert.Equal(t, "Mañana no hay clases", b.Content.Text)
}

// ───────────────────────────────────────────────────────────────────────────
// MAIN_MENU
// ───────────────────────────────────────────────────────────────────────────

func TestMainMenu_UnknownOptionWarnsAndRerenders(t *testing.T) {
	st := greeted(guardian.StateMainMenu)

	next, actions, err := Transition(context.Background(), st, textMsg("9"), testEnv())
	require.NoError(t, err)
	assert.Equal(t, guardian.StateMainMenu, next.Name)
	texts := sentTexts(actions)
	require.Len(t, texts, 2)
	assert.Equal(t, msgInvalidOption, texts[0])
	assert.Contains(t, texts[1], "Menú principal")
}

func TestMainMenu_RegisterOptionMovesToAwaitID(t *testing.T) {
	st := greeted(guardian.StateMainMenu)

	next, actions, err := Transition(context.Background(), st, textMsg("2"), testEnv())
	require.NoError(t, err)
	assert.Equal(t, guardian.StateAwaitID, next.Name)
	assert.Equal(t, []string{msgAskID}, sentTexts(actions))
}

func TestMainMenu_ConsultWithoutLinks(t *testing.T) {
	st := greeted(guardian.StateMainMenu)

	next, actions, err := Transition(context.Background(), st, textMsg("1"), testEnv())
	require.NoError(t, err)
	assert.Equal(t, guardian.StateMainMenu, next.Name)
	assert.Equal(t, []string{msgNoStudents}, sentTexts(actions))
}

func TestMainMenu_ConsultListsLinkedStudents(t *testing.T) {
	st := greeted(guardian.StateMainMenu)
	env := testEnv()
	env.Links = &fakeLinks{links: []*guardian.Link{
		{UserID: testUser, StudentID: testID},
	}}

	next, actions, err := Transition(context.Background(), st, textMsg("1"), env)
	require.NoError(t, err)
	assert.Equal(t, guardian.StateSelectStudent, next.Name)
	assert.Equal(t, []student.ID{testID}, next.Candidates)
	texts := sentTexts(actions)
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "1. Carlos Pineda")
}

func TestMainMenu_AdminOptionHiddenFromRegularUsers(t *testing.T) {
	st := greeted(guardian.StateMainMenu)

	// Not listed in the rendered menu.
	assert.NotContains(t, mainMenu(false), "aviso")
	assert.Contains(t, mainMenu(true), "6.")

	// And selecting it is treated as an unknown option.
	next, actions, err := Transition(context.Background(), st, textMsg("6"), testEnv())
	require.NoError(t, err)
	assert.Equal(t, guardian.StateMainMenu, next.Name)
	assert.Equal(t, msgInvalidOption, sentTexts(actions)[0])
}

func TestMainMenu_AdminOptionOpensBroadcast(t *testing.T) {
	st := greeted(guardian.StateMainMenu)
	env := testEnv()
	env.IsAdmin = true

	next, actions, err := Transition(context.Background(), st, textMsg("6"), env)
	require.NoError(t, err)
	assert.Equal(t, guardian.StateAdminBroadcast, next.Name)
	assert.Equal(t, []string{msgBroadcastPrompt}, sentTexts(actions))
}

func TestMainMenu_LinkListFailureKeepsState(t *testing.T) {
	st := greeted(guardian.StateMainMenu)
	env := testEnv()
	env.Links = &fakeLinks{err: errors.New("db down")}

	next, actions, err := Transition(context.Background(), st, textMsg("1"), env)
	assert.Error(t, err)
	assert.Equal(t, guardian.StateMainMenu, next.Name)
	assert.Equal(t, []string{msgServiceUnavailable}, sentTexts(actions))
}

// ───────────────────────────────────────────────────────────────────────────
// AWAIT_ID / AWAIT_PIN
// ───────────────────────────────────────────────────────────────────────────

func TestAwaitID_TwelveDigitsRejected(t *testing.T) {
	st := greeted(guardian.StateAwaitID)

	next, actions, err := Transition(context.Background(), st, textMsg("080120101234"), testEnv())
	require.NoError(t, err)
	assert.Equal(t, guardian.StateAwaitID, next.Name)
	assert.Equal(t, []string{msgInvalidID}, sentTexts(actions))
}

func TestAwaitID_NonNumericRejected(t *testing.T) {
	st := greeted(guardian.StateAwaitID)

	next, actions, err := Transition(context.Background(), st, textMsg("08012010x2345"), testEnv())
	require.NoError(t, err)
	assert.Equal(t, guardian.StateAwaitID, next.Name)
	assert.Equal(t, []string{msgInvalidID}, sentTexts(actions))
}

func TestAwaitID_LedgerMissReprompts(t *testing.T) {
	st := greeted(guardian.StateAwaitID)

	next, actions, err := Transition(context.Background(), st, textMsg("9999999999999"), testEnv())
	require.NoError(t, err)
	assert.Equal(t, guardian.StateAwaitID, next.Name)
	assert.Equal(t, []string{msgStudentNotFound}, sentTexts(actions))
}

func TestAwaitID_HitCarriesIDToAwaitPIN(t *testing.T) {
	st := greeted(guardian.StateAwaitID)

	next, actions, err := Transition(context.Background(), st, textMsg(string(testID)), testEnv())
	require.NoError(t, err)
	assert.Equal(t, guardian.StateAwaitPIN, next.Name)
	assert.Equal(t, testID, next.PendingID)
	texts := sentTexts(actions)
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Carlos Pineda")
}

func TestAwaitPIN_WrongPINReprompts(t *testing.T) {
	st := greeted(guardian.StateAwaitPIN)
	st.PendingID = testID

	next, actions, err := Transition(context.Background(), st, textMsg("0000"), testEnv())
	require.NoError(t, err)
	assert.Equal(t, guardian.StateAwaitPIN, next.Name)
	assert.Equal(t, testID, next.PendingID)
	assert.Equal(t, []string{msgInvalidPIN}, sentTexts(actions))
}

func TestAwaitPIN_SuccessCreatesHashedLink(t *testing.T) {
	st := greeted(guardian.StateAwaitPIN)
	st.PendingID = testID

	next, actions, err := Transition(context.Background(), st, textMsg("4821"), testEnv())
	require.NoError(t, err)
	assert.Equal(t, guardian.StateMainMenu, next.Name)
	assert.Empty(t, next.PendingID)
	assert.True(t, hasSchedule(actions))

	var created *CreateLink
	for _, a := range actions {
		if c, ok := a.(CreateLink); ok {
			created = &c
		}
	}
	require.NotNil(t, created)
	assert.Equal(t, testID, created.StudentID)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(created.PINHash), []byte("4821")))
}

// ───────────────────────────────────────────────────────────────────────────
// SELECT_STUDENT / REMOVE_STUDENT / ADMIN_BROADCAST
// ───────────────────────────────────────────────────────────────────────────

func TestSelectStudent_RendersDebtSummary(t *testing.T) {
	st := greeted(guardian.StateSelectStudent)
	st.Candidates = []student.ID{testID}

	next, actions, err := Transition(context.Background(), st, textMsg("1"), testEnv())
	require.NoError(t, err)
	assert.Equal(t, guardian.StateMainMenu, next.Name)
	assert.Empty(t, next.Candidates)
	assert.True(t, hasSchedule(actions))

	texts := sentTexts(actions)
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "MAYO, JUNIO")
	assert.Contains(t, texts[0], "1000.00")
	assert.Contains(t, texts[0], "25.00")
	assert.Contains(t, texts[0], "1025.00")
	assert.Contains(t, texts[0], "11/07/2025")
}

func TestSelectStudent_InvalidIndexReprompts(t *testing.T) {
	for _, input := range []string{"0", "2", "abc", "-1"} {
		st := greeted(guardian.StateSelectStudent)
		st.Candidates = []student.ID{testID}

		next, actions, err := Transition(context.Background(), st, textMsg(input), testEnv())
		require.NoError(t, err)
		assert.Equal(t, guardian.StateSelectStudent, next.Name, input)
		assert.Equal(t, []student.ID{testID}, next.Candidates)
		assert.Equal(t, []string{msgInvalidSelection}, sentTexts(actions))
	}
}

func TestRemoveStudent_ValidIndexDeletesLink(t *testing.T) {
	st := greeted(guardian.StateRemoveStudent)
	st.Candidates = []student.ID{testID}

	next, actions, err := Transition(context.Background(), st, textMsg("1"), testEnv())
	require.NoError(t, err)
	assert.Equal(t, guardian.StateMainMenu, next.Name)
	assert.True(t, hasSchedule(actions))

	var deleted bool
	for _, a := range actions {
		if d, ok := a.(DeleteLink); ok {
			deleted = true
			assert.Equal(t, testID, d.StudentID)
		}
	}
	assert.True(t, deleted)
}

func TestAdminBroadcast_ForwardsMediaAndReturnsToMenu(t *testing.T) {
	st := greeted(guardian.StateAdminBroadcast)
	msg := chat.Message{
		From:    testUser,
		Content: chat.Image([]byte{0xFF, 0xD8}, "Calendario de exámenes"),
	}

	next, actions, err := Transition(context.Background(), st, msg, testEnv())
	require.NoError(t, err)
	assert.Equal(t, guardian.StateMainMenu, next.Name)

	require.NotEmpty(t, actions)
	b, ok := actions[0].(Broadcast)
	require.True(t, ok)
	assert.Equal(t, chat.KindImage, b.Content.Kind)
	assert.Equal(t, "Calendario de exámenes", b.Content.Text)
}

// ───────────────────────────────────────────────────────────────────────────
// State hygiene
// ───────────────────────────────────────────────────────────────────────────

func TestTransition_UnknownStoredStateCollapsesToMainMenu(t *testing.T) {
	st := greeted("PAYMENT_FLOW_V1")

	next, actions, err := Transition(context.Background(), st, textMsg("2"), testEnv())
	require.NoError(t, err)
	assert.Equal(t, guardian.StateAwaitID, next.Name)
	require.NotEmpty(t, sentTexts(actions))
}

func TestFoldAccents(t *testing.T) {
	assert.Equal(t, "menu", foldAccents("menú"))
	assert.Equal(t, "adios", foldAccents(strings.ToLower("ADIÓS")))
}
