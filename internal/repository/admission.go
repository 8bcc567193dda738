package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/docengine-backend/internal/model"
)

// AdmissionRepository persists RateCounter and BudgetCounter under atomic
// upsert-increment transactions, grounded on the teacher's
// UsageRepo.Increment ON CONFLICT pattern.
type AdmissionRepository struct {
	pool *pgxpool.Pool
}

// NewAdmissionRepository creates an AdmissionRepository.
func NewAdmissionRepository(pool *pgxpool.Pool) *AdmissionRepository {
	return &AdmissionRepository{pool: pool}
}

// IncrementRate atomically increments rate_counters(ip_hash, day) and
// returns the post-increment count. The single INSERT..ON CONFLICT
// statement prevents a TOCTOU race under concurrent requests from the
// same IP (§4.4).
func (r *AdmissionRepository) IncrementRate(ctx context.Context, ipHash string, day time.Time) (uint32, error) {
	var count uint32
	err := r.pool.QueryRow(ctx, `
		INSERT INTO rate_counters (ip_hash, day, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (ip_hash, day)
		DO UPDATE SET count = rate_counters.count + 1
		RETURNING count
	`, ipHash, day).Scan(&count)
	return count, err
}

// PeekBudget reads budget_counters(day) without mutating it. A missing row
// means no external calls yet today: zero values.
func (r *AdmissionRepository) PeekBudget(ctx context.Context, day time.Time) (uint32, uint64, error) {
	var calls uint32
	var cost uint64
	err := r.pool.QueryRow(ctx, `
		SELECT external_calls, cost_micro_usd FROM budget_counters WHERE day = $1
	`, day).Scan(&calls, &cost)
	if err != nil {
		if err.Error() == "no rows in result set" {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	return calls, cost, nil
}

// IncrementBudget atomically increments budget_counters(day) after a real
// external call completes.
func (r *AdmissionRepository) IncrementBudget(ctx context.Context, day time.Time, costMicroUSD uint64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO budget_counters (day, external_calls, cost_micro_usd)
		VALUES ($1, 1, $2)
		ON CONFLICT (day)
		DO UPDATE SET external_calls = budget_counters.external_calls + 1,
		              cost_micro_usd = budget_counters.cost_micro_usd + $2
	`, day, costMicroUSD)
	return err
}

// RecordExternalCall appends an audit_external_calls row (§4.3) and
// implements externalmodel.AuditRecorder. Audit failures are logged by the
// caller and never block the pipeline's response to the user.
func (r *AdmissionRepository) RecordExternalCall(ctx context.Context, call model.AuditExternalCall) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_external_calls (invocation_id, provider, model, tokens_in, tokens_out, cost_micro_usd, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, call.InvocationID, call.Provider, call.Model, call.TokensIn, call.TokensOut, call.CostMicroUSD, call.CreatedAt)
	return err
}
