package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/velasquezhn3/chatbotwhatsapp/internal/domain/student"
	"github.com/velasquezhn3/chatbotwhatsapp/internal/observability"
	"github.com/velasquezhn3/chatbotwhatsapp/pkg/timeutil"
)

// Downloader fetches the raw workbook export.
type Downloader interface {
	Download(ctx context.Context) ([]byte, error)
}

// Cache holds one parsed workbook for the whole process and refreshes it
// wholesale when the TTL expires. There is no mid-TTL invalidation: a lookup
// between refreshes may see a snapshot up to TTL old, which the school
// accepts for payment data. Concurrent refreshes at expiry are coalesced so
// only one download hits the export endpoint.
type Cache struct {
	downloader Downloader
	config     Config
	ttl        time.Duration
	logger     *slog.Logger
	metrics    *observability.Metrics

	group singleflight.Group

	mu        sync.RWMutex
	workbook  *Workbook
	fetchedAt time.Time
}

var _ student.Ledger = (*Cache)(nil)

// NewCache builds an empty cache. The first lookup triggers the first
// download.
func NewCache(downloader Downloader, config Config, ttl time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		downloader: downloader,
		config:     config,
		ttl:        ttl,
		logger:     logger,
		metrics:    metrics,
	}
}

// FindStudent looks the id up in the current workbook snapshot.
func (c *Cache) FindStudent(ctx context.Context, id student.ID) (*student.Student, error) {
	wb, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	now := timeutil.Now()
	return wb.Find(id, student.Period(now.Month()))
}

// current returns a fresh workbook, refreshing through singleflight when the
// TTL has expired.
func (c *Cache) current(ctx context.Context) (*Workbook, error) {
	c.mu.RLock()
	wb, fresh := c.workbook, time.Since(c.fetchedAt) < c.ttl
	c.mu.RUnlock()

	if wb != nil && fresh {
		if c.metrics != nil {
			c.metrics.LedgerCacheHits.Inc()
		}
		return wb, nil
	}

	v, err, _ := c.group.Do("workbook", func() (interface{}, error) {
		// A coalesced caller may arrive after the winning flight already
		// stored a fresh copy.
		c.mu.RLock()
		wb, fresh := c.workbook, time.Since(c.fetchedAt) < c.ttl
		c.mu.RUnlock()
		if wb != nil && fresh {
			return wb, nil
		}
		return c.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Workbook), nil
}

func (c *Cache) refresh(ctx context.Context) (*Workbook, error) {
	if c.metrics != nil {
		c.metrics.LedgerFetches.Inc()
	}

	data, err := c.downloader.Download(ctx)
	if err == nil {
		var wb *Workbook
		if wb, err = Parse(data, c.config); err == nil {
			c.mu.Lock()
			c.workbook = wb
			c.fetchedAt = time.Now()
			c.mu.Unlock()
			c.logger.Info("ledger workbook refreshed", "rows", len(wb.rows))
			return wb, nil
		}
	}

	// Refresh failed. A stale snapshot beats answering nobody, so serve it
	// and retry on the next lookup past the TTL.
	c.mu.RLock()
	stale := c.workbook
	c.mu.RUnlock()
	if stale != nil {
		c.logger.Warn("ledger refresh failed, serving stale workbook", "error", err)
		return stale, nil
	}
	return nil, fmt.Errorf("refresh ledger workbook: %w", err)
}
