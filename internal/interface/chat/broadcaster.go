package chat

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/velasquezhn3/chatbotwhatsapp/internal/observability"
)

// ═══════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ═══════════════════════════════════════════════════════════════════════════

// BroadcasterConfig controls fan-out pacing. Sends are strictly sequential
// with a randomized pause in [MinDelay, MaxDelay] between recipients, keeping
// the transport account under hosted-API rate heuristics.
type BroadcasterConfig struct {
	MinDelay time.Duration
	MaxDelay time.Duration
}

// DefaultBroadcasterConfig returns the pacing used in production.
func DefaultBroadcasterConfig() BroadcasterConfig {
	return BroadcasterConfig{
		MinDelay: 2 * time.Second,
		MaxDelay: 5 * time.Second,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// BROADCASTER
// ═══════════════════════════════════════════════════════════════════════════

// Broadcaster fans one content out to many recipients. Per-recipient failures
// are logged and counted but never abort the fan-out.
type Broadcaster struct {
	channel Channel
	config  BroadcasterConfig
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewBroadcaster(channel Channel, config BroadcasterConfig, metrics *observability.Metrics, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		channel: channel,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// Broadcast sends content to every recipient in order. It returns how many
// sends succeeded and how many failed, and stops early only when ctx is
// cancelled.
func (b *Broadcaster) Broadcast(ctx context.Context, recipients []string, content Content) (sent, failed int) {
	for i, recipient := range recipients {
		if i > 0 {
			if err := b.pause(ctx); err != nil {
				b.logger.Warn("broadcast cancelled", "delivered", sent, "remaining", len(recipients)-i)
				return sent, failed
			}
		}

		if err := b.channel.Send(ctx, recipient, content); err != nil {
			failed++
			b.countSend("error")
			b.logger.Error("broadcast send failed", "recipient", recipient, "error", err)
			continue
		}
		sent++
		b.countSend("ok")
	}

	b.logger.Info("broadcast finished", "recipients", len(recipients), "sent", sent, "failed", failed)
	return sent, failed
}

func (b *Broadcaster) pause(ctx context.Context) error {
	delay := b.config.MinDelay
	if jitter := b.config.MaxDelay - b.config.MinDelay; jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(jitter)))
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (b *Broadcaster) countSend(outcome string) {
	if b.metrics != nil {
		b.metrics.BroadcastSends.WithLabelValues(outcome).Inc()
	}
}
