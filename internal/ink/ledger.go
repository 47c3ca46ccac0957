package ink

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

// Defaults 墨水经济默认参数
const (
	DefaultMaxInk        = 1000.0
	DefaultRegenAmount   = 40.0
	DefaultRegenInterval = 5 * time.Second

	// CostDivisor is the K constant in the segment cost formula. Tuned so a
	// size-3 brush at zoom 18 costs 3/4096 ink per pixel.
	CostDivisor = 4096.0

	// ReferenceZoom anchors the exponential zoom penalty: at this zoom the
	// penalty term is 1; every level below doubles the covered ground area
	// per pixel twice over.
	ReferenceZoom = 18

	// MinCostZoom is the coarsest zoom the cost formula is defined for
	MinCostZoom = 1
)

// ErrInsufficient is returned when a fixed-cost action cannot be covered
var ErrInsufficient = errors.New("ink: insufficient balance")

// Observer receives the new balance after every change
type Observer func(balance float64)

// Ledger is the per-session ink meter. The balance is always within
// [0, max]. Regeneration runs on its own timer and composes with
// user-driven consumption under one mutex.
type Ledger struct {
	mu       sync.Mutex
	balance  float64
	max      float64
	regen    float64
	interval time.Duration
	observer Observer
}

// NewLedger creates a full ledger with default parameters
func NewLedger() *Ledger {
	return &Ledger{
		balance:  DefaultMaxInk,
		max:      DefaultMaxInk,
		regen:    DefaultRegenAmount,
		interval: DefaultRegenInterval,
	}
}

// NewLedgerWith creates a full ledger with explicit parameters
func NewLedgerWith(max, regen float64, interval time.Duration) *Ledger {
	return &Ledger{balance: max, max: max, regen: regen, interval: interval}
}

// SetObserver registers the balance-change callback (UI feedback)
func (l *Ledger) SetObserver(fn Observer) {
	l.mu.Lock()
	l.observer = fn
	l.mu.Unlock()
}

// Current returns the remaining balance
func (l *Ledger) Current() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}

// CanDraw reports whether any ink remains
func (l *Ledger) CanDraw() bool {
	return l.Current() > 0
}

// Cost computes the fractional ink cost of one stroke segment.
// 低缩放级别（大范围）绘制成本呈指数增长，精细绘制便宜。
func Cost(brushSize, pixelDistance float64, zoom int) float64 {
	return brushSize * pixelDistance * math.Pow(2, 2*float64(ReferenceZoom-zoom)) / CostDivisor
}

// Consume takes a fixed amount all-or-nothing. Returns false with no
// mutation when the balance cannot cover it (discrete actions like pins).
func (l *Ledger) Consume(amount float64) bool {
	l.mu.Lock()
	if amount > l.balance {
		l.mu.Unlock()
		return false
	}
	l.balance -= amount
	l.notifyLocked()
	l.mu.Unlock()
	return true
}

// ForceConsume always succeeds, clamping the balance at zero. Returns the
// amount actually taken, which the caller needs for cancel refunds.
// Used for the continuous per-segment drain where partial consumption is
// acceptable.
func (l *Ledger) ForceConsume(amount float64) float64 {
	l.mu.Lock()
	taken := amount
	if taken > l.balance {
		taken = l.balance
	}
	l.balance -= taken
	l.notifyLocked()
	l.mu.Unlock()
	return taken
}

// Refund credits ink back, clamped at the maximum. Used when a competing
// gesture cancels a partially charged stroke.
func (l *Ledger) Refund(amount float64) {
	if amount <= 0 {
		return
	}
	l.mu.Lock()
	l.balance += amount
	if l.balance > l.max {
		l.balance = l.max
	}
	l.notifyLocked()
	l.mu.Unlock()
}

// Tick applies one regeneration step. Exposed for deterministic tests;
// StartRegen drives it from a wall-clock timer.
func (l *Ledger) Tick() {
	l.mu.Lock()
	l.balance += l.regen
	if l.balance > l.max {
		l.balance = l.max
	}
	l.notifyLocked()
	l.mu.Unlock()
}

// StartRegen runs the regeneration timer until the context is cancelled
func (l *Ledger) StartRegen(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Tick()
			}
		}
	}()
}

func (l *Ledger) notifyLocked() {
	if l.observer != nil {
		l.observer(l.balance)
	}
}
