package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/velasquezhn3/chatbotwhatsapp/internal/domain/guardian"
	"github.com/velasquezhn3/chatbotwhatsapp/internal/domain/student"
	"github.com/velasquezhn3/chatbotwhatsapp/internal/interface/chat"
	"github.com/velasquezhn3/chatbotwhatsapp/internal/observability"
	"github.com/velasquezhn3/chatbotwhatsapp/pkg/timeutil"
)

// ═══════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ═══════════════════════════════════════════════════════════════════════════

// ServiceConfig holds the service-level knobs around the automaton.
type ServiceConfig struct {
	// AdminIDs lists the user identities allowed to broadcast.
	AdminIDs []string

	// MenuDelay is how long after a closing answer the main menu re-renders.
	MenuDelay time.Duration

	// SchedulePath addresses the schedule document in the content cache.
	// Empty disables the attachment.
	SchedulePath string
}

// DefaultServiceConfig returns production defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MenuDelay: 5 * time.Second,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// SERVICE
// ═══════════════════════════════════════════════════════════════════════════

// Service drives the automaton: it loads conversation state, runs the
// transition, executes the resulting actions and persists the next state.
// Messages from different users may be handled concurrently; there is no
// per-user mutual exclusion, last write wins.
type Service struct {
	config      ServiceConfig
	states      guardian.StateStore
	links       guardian.LinkRepository
	ledger      student.Ledger
	media       MediaStore
	channel     chat.Channel
	broadcaster *chat.Broadcaster
	admins      map[string]struct{}
	logger      *slog.Logger
	metrics     *observability.Metrics

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewService(
	config ServiceConfig,
	states guardian.StateStore,
	links guardian.LinkRepository,
	ledger student.Ledger,
	media MediaStore,
	channel chat.Channel,
	broadcaster *chat.Broadcaster,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	admins := make(map[string]struct{}, len(config.AdminIDs))
	for _, id := range config.AdminIDs {
		admins[id] = struct{}{}
	}
	return &Service{
		config:      config,
		states:      states,
		links:       links,
		ledger:      ledger,
		media:       media,
		channel:     channel,
		broadcaster: broadcaster,
		admins:      admins,
		logger:      logger,
		metrics:     metrics,
		timers:      make(map[string]*time.Timer),
	}
}

// HandleMessage processes one inbound message end to end. Panics and errors
// are contained here: they are logged and never reach other users or the
// caller.
func (s *Service) HandleMessage(ctx context.Context, msg chat.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.countError()
			s.logger.Error("message handler panicked", "user", msg.From, "panic", r)
		}
	}()

	// A new inbound message supersedes any pending delayed menu render.
	s.cancelMenuTimer(msg.From)

	st := s.loadState(ctx, msg.From)
	if s.metrics != nil {
		s.metrics.MessagesHandled.WithLabelValues(string(st.Name)).Inc()
	}

	isAdmin := s.isAdmin(msg.From)
	env := Env{
		Now:          timeutil.Now(),
		IsAdmin:      isAdmin,
		Ledger:       s.ledger,
		Links:        s.links,
		Media:        s.media,
		SchedulePath: s.config.SchedulePath,
	}

	next, actions, err := Transition(ctx, *st, msg, env)
	if err != nil {
		s.countError()
		s.logger.Error("transition failed", "user", msg.From, "state", st.Name, "error", err)
	}

	for _, action := range actions {
		s.execute(ctx, msg.From, isAdmin, action)
	}

	if err := s.states.Put(ctx, &next); err != nil {
		s.countError()
		s.logger.Error("persist conversation state failed", "user", msg.From, "error", err)
	}
}

// Close stops every pending menu timer.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for user, timer := range s.timers {
		timer.Stop()
		delete(s.timers, user)
	}
}

// ───────────────────────────────────────────────────────────────────────────
// Action execution
// ───────────────────────────────────────────────────────────────────────────

func (s *Service) execute(ctx context.Context, user string, isAdmin bool, action Action) {
	switch a := action.(type) {
	case SendText:
		s.send(ctx, user, chat.Text(a.Text))

	case SendContent:
		s.send(ctx, user, a.Content)

	case ScheduleMenu:
		s.scheduleMenu(user, isAdmin)

	case CreateLink:
		link := &guardian.Link{
			ID:        uuid.NewString(),
			UserID:    user,
			StudentID: a.StudentID,
			PINHash:   a.PINHash,
			CreatedAt: timeutil.Now(),
		}
		err := s.links.Create(ctx, link)
		if errors.Is(err, guardian.ErrLinkAlreadyExists) {
			s.logger.Info("student already registered", "user", user, "student", a.StudentID)
		} else if err != nil {
			s.countError()
			s.logger.Error("create link failed", "user", user, "student", a.StudentID, "error", err)
			s.send(ctx, user, chat.Text(msgServiceUnavailable))
		}

	case DeleteLink:
		err := s.links.Delete(ctx, user, a.StudentID)
		if err != nil && !errors.Is(err, guardian.ErrLinkNotFound) {
			s.countError()
			s.logger.Error("delete link failed", "user", user, "student", a.StudentID, "error", err)
			s.send(ctx, user, chat.Text(msgServiceUnavailable))
		}

	case Broadcast:
		s.fanOut(ctx, user, a.Content)
	}
}

func (s *Service) fanOut(ctx context.Context, sender string, content chat.Content) {
	recipients, err := s.links.ListUserIDs(ctx)
	if err != nil {
		s.countError()
		s.logger.Error("list broadcast recipients failed", "error", err)
		s.send(ctx, sender, chat.Text(msgServiceUnavailable))
		return
	}

	sent, failed := s.broadcaster.Broadcast(ctx, recipients, content)
	s.send(ctx, sender, chat.Text(msgBroadcastResult(sent, failed)))
}

func (s *Service) send(ctx context.Context, user string, content chat.Content) {
	if err := s.channel.Send(ctx, user, content); err != nil {
		s.countError()
		s.logger.Error("send failed", "user", user, "kind", content.Kind, "error", err)
	}
}

// ───────────────────────────────────────────────────────────────────────────
// Delayed menu render
// ───────────────────────────────────────────────────────────────────────────

func (s *Service) scheduleMenu(user string, isAdmin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[user]; ok {
		timer.Stop()
	}
	s.timers[user] = time.AfterFunc(s.config.MenuDelay, func() {
		s.mu.Lock()
		delete(s.timers, user)
		s.mu.Unlock()
		s.send(context.Background(), user, chat.Text(mainMenu(isAdmin)))
	})
}

func (s *Service) cancelMenuTimer(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[user]; ok {
		timer.Stop()
		delete(s.timers, user)
	}
}

// ───────────────────────────────────────────────────────────────────────────
// Helpers
// ───────────────────────────────────────────────────────────────────────────

func (s *Service) isAdmin(user string) bool {
	_, ok := s.admins[user]
	return ok
}

func (s *Service) loadState(ctx context.Context, user string) *guardian.State {
	st, err := s.states.Get(ctx, user)
	if errors.Is(err, guardian.ErrStateNotFound) {
		return &guardian.State{UserID: user, Name: guardian.StateMainMenu}
	}
	if err != nil {
		// A broken state store must not silence the bot: fall back to a
		// fresh conversation.
		s.logger.Warn("load conversation state failed, starting fresh", "user", user, "error", err)
		return &guardian.State{UserID: user, Name: guardian.StateMainMenu}
	}
	return st
}

func (s *Service) countError() {
	if s.metrics != nil {
		s.metrics.HandlerErrors.Inc()
	}
}

func msgBroadcastResult(sent, failed int) string {
	if failed == 0 {
		return fmt.Sprintf("📣 Aviso enviado a %d encargados.", sent)
	}
	return fmt.Sprintf("📣 Aviso enviado a %d encargados (%d envíos fallaron).", sent, failed)
}
