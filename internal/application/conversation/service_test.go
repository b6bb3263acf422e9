package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velasquezhn3/chatbotwhatsapp/internal/domain/guardian"
	"github.com/velasquezhn3/chatbotwhatsapp/internal/domain/student"
	"github.com/velasquezhn3/chatbotwhatsapp/internal/interface/chat"
	"github.com/velasquezhn3/chatbotwhatsapp/pkg/timeutil"
)

// ───────────────────────────────────────────────────────────────────────────
// Fakes
// ───────────────────────────────────────────────────────────────────────────

type fakeChannel struct {
	mu    sync.Mutex
	sends []chat.Message
	panic bool
}

func (c *fakeChannel) Send(_ context.Context, recipient string, content chat.Content) error {
	if c.panic {
		panic("transport exploded")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, chat.Message{From: recipient, Content: content})
	return nil
}

func (c *fakeChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sends)
}

func (c *fakeChannel) recipients() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sends))
	for _, m := range c.sends {
		out = append(out, m.From)
	}
	return out
}

type memoryStateStore struct {
	mu     sync.Mutex
	states map[string]guardian.State
}

func newMemoryStateStore() *memoryStateStore {
	return &memoryStateStore{states: make(map[string]guardian.State)}
}

func (s *memoryStateStore) Get(_ context.Context, userID string) (*guardian.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[userID]
	if !ok {
		return nil, guardian.ErrStateNotFound
	}
	return &st, nil
}

func (s *memoryStateStore) Put(_ context.Context, st *guardian.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.UserID] = *st
	return nil
}

type memoryLinkRepo struct {
	mu    sync.Mutex
	links []*guardian.Link
}

func (r *memoryLinkRepo) Create(_ context.Context, link *guardian.Link) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.links {
		if l.UserID == link.UserID && l.StudentID == link.StudentID {
			return guardian.ErrLinkAlreadyExists
		}
	}
	r.links = append(r.links, link)
	return nil
}

func (r *memoryLinkRepo) ListByUser(_ context.Context, userID string) ([]*guardian.Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*guardian.Link
	for _, l := range r.links {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *memoryLinkRepo) Delete(_ context.Context, userID string, studentID student.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, l := range r.links {
		if l.UserID == userID && l.StudentID == studentID {
			r.links = append(r.links[:i], r.links[i+1:]...)
			return nil
		}
	}
	return guardian.ErrLinkNotFound
}

func (r *memoryLinkRepo) ListUserIDs(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for _, l := range r.links {
		if _, ok := seen[l.UserID]; ok {
			continue
		}
		seen[l.UserID] = struct{}{}
		out = append(out, l.UserID)
	}
	return out, nil
}

// ───────────────────────────────────────────────────────────────────────────
// Harness
// ───────────────────────────────────────────────────────────────────────────

type harness struct {
	service *Service
	channel *fakeChannel
	states  *memoryStateStore
	links   *memoryLinkRepo
}

func newHarness(t *testing.T, config ServiceConfig) *harness {
	t.Helper()

	channel := &fakeChannel{}
	states := newMemoryStateStore()
	links := &memoryLinkRepo{}
	ledger := &fakeLedger{students: map[student.ID]*student.Student{testID: testStudent()}}
	broadcaster := chat.NewBroadcaster(channel, chat.BroadcasterConfig{}, nil, nil)

	svc := NewService(config, states, links, ledger, nil, channel, broadcaster, nil, nil)
	t.Cleanup(svc.Close)
	return &harness{service: svc, channel: channel, states: states, links: links}
}

// seed stores a state whose greeting already fired today.
func (h *harness) seed(t *testing.T, st guardian.State) {
	t.Helper()
	st.LastGreeting = timeutil.DateKey(timeutil.Now())
	require.NoError(t, h.states.Put(context.Background(), &st))
}

// ───────────────────────────────────────────────────────────────────────────
// Tests
// ───────────────────────────────────────────────────────────────────────────

func TestHandleMessage_FirstContactGreetsAndPersistsState(t *testing.T) {
	h := newHarness(t, DefaultServiceConfig())

	h.service.HandleMessage(context.Background(), textMsg("hola"))

	assert.Equal(t, 2, h.channel.count())

	st, err := h.states.Get(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, guardian.StateMainMenu, st.Name)
	assert.Equal(t, timeutil.DateKey(timeutil.Now()), st.LastGreeting)
}

func TestHandleMessage_RegistrationCreatesLink(t *testing.T) {
	h := newHarness(t, DefaultServiceConfig())
	h.seed(t, guardian.State{UserID: testUser, Name: guardian.StateAwaitPIN, PendingID: testID})

	h.service.HandleMessage(context.Background(), textMsg("4821"))

	links, err := h.links.ListByUser(context.Background(), testUser)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, testID, links[0].StudentID)
	assert.NotEmpty(t, links[0].ID)
	assert.NotEqual(t, "4821", links[0].PINHash)

	st, err := h.states.Get(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, guardian.StateMainMenu, st.Name)
}

func TestHandleMessage_PanicIsContained(t *testing.T) {
	h := newHarness(t, DefaultServiceConfig())
	h.channel.panic = true

	assert.NotPanics(t, func() {
		h.service.HandleMessage(context.Background(), textMsg("hola"))
	})
}

func TestHandleMessage_BroadcastReachesAllGuardians(t *testing.T) {
	admin := "50400000001"
	config := DefaultServiceConfig()
	config.AdminIDs = []string{admin}
	h := newHarness(t, config)

	for _, user := range []string{"u1", "u2"} {
		require.NoError(t, h.links.Create(context.Background(), &guardian.Link{
			ID: user, UserID: user, StudentID: testID,
		}))
	}
	h.seed(t, guardian.State{UserID: admin, Name: guardian.StateAdminBroadcast})

	h.service.HandleMessage(context.Background(), chat.Message{
		From:    admin,
		Content: chat.Text("Mañana no hay clases"),
	})

	recipients := h.channel.recipients()
	assert.Contains(t, recipients, "u1")
	assert.Contains(t, recipients, "u2")
	// Fan-out summary goes back to the admin.
	assert.Contains(t, recipients, admin)

	st, err := h.states.Get(context.Background(), admin)
	require.NoError(t, err)
	assert.Equal(t, guardian.StateMainMenu, st.Name)
}

func TestHandleMessage_DelayedMenuRenderFires(t *testing.T) {
	config := DefaultServiceConfig()
	config.MenuDelay = 30 * time.Millisecond
	h := newHarness(t, config)
	h.seed(t, guardian.State{
		UserID:     testUser,
		Name:       guardian.StateSelectStudent,
		Candidates: []student.ID{testID},
	})

	h.service.HandleMessage(context.Background(), textMsg("1"))
	require.Equal(t, 1, h.channel.count())

	assert.Eventually(t, func() bool {
		return h.channel.count() == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHandleMessage_NewInboundCancelsPendingMenuRender(t *testing.T) {
	config := DefaultServiceConfig()
	config.MenuDelay = 60 * time.Millisecond
	h := newHarness(t, config)
	h.seed(t, guardian.State{
		UserID:     testUser,
		Name:       guardian.StateSelectStudent,
		Candidates: []student.ID{testID},
	})

	h.service.HandleMessage(context.Background(), textMsg("1"))
	// Supersede before the timer fires: the stale render must not appear.
	h.service.HandleMessage(context.Background(), textMsg("5"))

	before := h.channel.count()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, before, h.channel.count())
}
