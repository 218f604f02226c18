package venue

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter groups per-endpoint-category limiters for one venue, the same
// grouping the teacher's sibling example (0xtitan6-polymarket-mm) uses for
// its hand-rolled token buckets: separate budgets for book reads, order
// writes and cancels so a burst of book polling never starves order
// placement. This reference implementation uses the standard extended
// library's rate.Limiter instead of a hand-rolled bucket.
type RateLimiter struct {
	Book   *rate.Limiter
	Order  *rate.Limiter
	Cancel *rate.Limiter
}

// Limits configures burst and steady-state rate for one category.
type Limits struct {
	Burst        int
	PerSecond    float64
}

// NewRateLimiter builds a RateLimiter from per-category limits.
func NewRateLimiter(book, order, cancel Limits) *RateLimiter {
	return &RateLimiter{
		Book:   rate.NewLimiter(rate.Limit(book.PerSecond), book.Burst),
		Order:  rate.NewLimiter(rate.Limit(order.PerSecond), order.Burst),
		Cancel: rate.NewLimiter(rate.Limit(cancel.PerSecond), cancel.Burst),
	}
}

// DefaultRateLimiter sets the budget both reference adapters use: book reads
// 15/s (burst 150), order writes 50/s (burst 350) and cancels 30/s
// (burst 300).
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(
		Limits{Burst: 150, PerSecond: 15},
		Limits{Burst: 350, PerSecond: 50},
		Limits{Burst: 300, PerSecond: 30},
	)
}

// WaitBook blocks until a book-read token is available or ctx is done.
func (r *RateLimiter) WaitBook(ctx context.Context) error { return r.Book.Wait(ctx) }

// WaitOrder blocks until an order-write token is available or ctx is done.
func (r *RateLimiter) WaitOrder(ctx context.Context) error { return r.Order.Wait(ctx) }

// WaitCancel blocks until a cancel token is available or ctx is done.
func (r *RateLimiter) WaitCancel(ctx context.Context) error { return r.Cancel.Wait(ctx) }
