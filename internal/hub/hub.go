// Package hub implements the per-tile coordination service: one actor per
// geographic tile key serializes concurrent edits, enforces admission
// control, broadcasts a totally ordered event stream to tile subscribers,
// and batches committed events toward durable storage.
//
// 每个瓦片一个 actor（goroutine + mailbox），瓦片之间相互独立，
// 因此无需分布式锁；跨瓦片不保证事件顺序。
package hub

import (
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/jengzang/inkmap-backend-go/internal/models"
)

var (
	// ErrRateLimited rejects events beyond the per-user or per-tile
	// admission budget. Rejected, never queued.
	ErrRateLimited = errors.New("hub: rate limit exceeded")

	// ErrTileFull rejects joins above the subscriber cap; the client
	// should retry later.
	ErrTileFull = errors.New("hub: tile subscriber cap reached, retry later")

	// ErrStopped reports a coordinator that has already shut down
	ErrStopped = errors.New("hub: coordinator stopped")
)

// Store is the durable sink for committed events. Satisfied by
// repository.StrokeRepository.
type Store interface {
	BatchInsert(strokes []models.Stroke) (int64, error)
	DeleteByAuthor(id, userID string) (int64, error)
	UpdatePatch(id, userID string, patch *models.StrokePatch) (int64, error)
}

// Options tunes one tile coordinator
type Options struct {
	MaxSubscribers   int
	UserEventsPerSec float64
	UserBurst        int
	TileEventsPerSec float64
	TileBurst        int
	IdleTimeout      time.Duration
	FlushInterval    time.Duration
	FlushBatchSize   int
	MaxFlushRetries  int
}

// DefaultOptions returns the production admission and flush parameters
func DefaultOptions() Options {
	return Options{
		MaxSubscribers:   64,
		UserEventsPerSec: 15,
		UserBurst:        30,
		TileEventsPerSec: 120,
		TileBurst:        240,
		IdleTimeout:      90 * time.Second,
		FlushInterval:    2 * time.Second,
		FlushBatchSize:   64,
		MaxFlushRetries:  3,
	}
}

func (o Options) userLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(o.UserEventsPerSec), o.UserBurst)
}

func (o Options) tileLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(o.TileEventsPerSec), o.TileBurst)
}
