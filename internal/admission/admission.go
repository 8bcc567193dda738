// Package admission implements the Rate/Budget Gate (C4): two independent,
// strictly-ordered checks standing between a query and any paid external
// call. Grounded on the teacher's repository/usage.go (atomic
// upsert-increment under ON CONFLICT) and middleware/ratelimit.go (the
// in-process sliding-window fast path kept in front of the persisted
// check), generalized from per-user monthly usage metering to per-IP,
// per-UTC-day rate limiting plus a global daily spend ceiling.
package admission

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrRateLimited is returned when a caller's IP has exceeded
// MAX_PER_IP_PER_DAY for the current UTC day (§4.4 step 1).
var ErrRateLimited = errors.New("admission: rate limited")

// Repository persists the two counters under atomic upsert-increment
// transactions. Implemented by internal/repository.
type Repository interface {
	// IncrementRate atomically increments RateCounter[ipHash, day] and
	// returns the post-increment count.
	IncrementRate(ctx context.Context, ipHash string, day time.Time) (uint32, error)
	// PeekBudget reads BudgetCounter[day] without mutating it.
	PeekBudget(ctx context.Context, day time.Time) (externalCalls uint32, costMicroUSD uint64, err error)
	// IncrementBudget atomically increments BudgetCounter[day] by one call
	// and costMicroUSD; called only after a real external call completes.
	IncrementBudget(ctx context.Context, day time.Time, costMicroUSD uint64) error
}

// Config holds the thresholds enforced by the gate (§4.4, §6).
type Config struct {
	MaxPerIPPerDay   uint32
	ExternalDailyCap uint32
	CostCapMicroUSD  uint64
	IPHashSecret     string
}

// Gate implements the C4 contract.
type Gate struct {
	repo Repository
	cfg  Config
	now  func() time.Time
}

// New creates a Gate.
func New(repo Repository, cfg Config) *Gate {
	return &Gate{repo: repo, cfg: cfg, now: time.Now}
}

// HashIP computes the keyed hash of a client IP used as RateCounter's key;
// raw IPs are never persisted (§4.4).
func (g *Gate) HashIP(ip string) string {
	mac := hmac.New(sha256.New, []byte(g.cfg.IPHashSecret))
	mac.Write([]byte(ip))
	return hex.EncodeToString(mac.Sum(nil))
}

func utcDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// CheckRate runs §4.4 step 1: increments the per-IP day counter and denies
// admission if it now exceeds MaxPerIPPerDay. This check always runs
// first, before any budget check, per the Open Question decision recorded
// in DESIGN.md.
func (g *Gate) CheckRate(ctx context.Context, clientIP string) error {
	ipHash := g.HashIP(clientIP)
	day := utcDay(g.now())

	count, err := g.repo.IncrementRate(ctx, ipHash, day)
	if err != nil {
		return fmt.Errorf("admission: increment rate: %w", err)
	}
	if count > g.cfg.MaxPerIPPerDay {
		return ErrRateLimited
	}
	return nil
}

// BudgetAvailable runs §4.4 step 2: reads (without mutating) today's
// global budget counter. It returns false when the external model must be
// short-circuited — the pipeline proceeds regardless, routing analysis
// through the local model instead (§4.5 Stage 3 fallback).
func (g *Gate) BudgetAvailable(ctx context.Context) (bool, error) {
	day := utcDay(g.now())
	calls, cost, err := g.repo.PeekBudget(ctx, day)
	if err != nil {
		return false, fmt.Errorf("admission: peek budget: %w", err)
	}
	if calls >= g.cfg.ExternalDailyCap || cost >= g.cfg.CostCapMicroUSD {
		return false, nil
	}
	return true, nil
}

// PeekBudgetStats exposes today's raw budget counters for reporting
// (§6 GET /stats), without the cap comparison BudgetAvailable applies.
func (g *Gate) PeekBudgetStats(ctx context.Context) (uint32, uint64, error) {
	day := utcDay(g.now())
	calls, cost, err := g.repo.PeekBudget(ctx, day)
	if err != nil {
		return 0, 0, fmt.Errorf("admission: peek budget stats: %w", err)
	}
	return calls, cost, nil
}

// RecordExternalCall increments today's budget counter after a real
// external call completes, crediting it with the call's computed cost.
func (g *Gate) RecordExternalCall(ctx context.Context, costMicroUSD uint64) error {
	day := utcDay(g.now())
	return g.repo.IncrementBudget(ctx, day, costMicroUSD)
}
