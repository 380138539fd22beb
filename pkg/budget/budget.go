// Package budget implements SARK's Budget Controller (§4.8): per-principal
// daily spend tracking backed by Postgres, with decimal arithmetic
// throughout and a durable outbox for writes the database could not accept.
// The repository shape (parameterized INSERT/UPSERT, QueryRow.Scan into
// domain structs) is grounded on
// Hola-to-network_logistics_problem/services/audit-svc/internal/repository/postgres.go.
package budget

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/sark/gateway/internal/logging"
	"github.com/sark/gateway/internal/storage"
	"github.com/sark/gateway/internal/telemetry"
	"github.com/sark/gateway/pkg/gateway"
	"github.com/sark/gateway/pkg/gwerrors"
)

// CheckResult is the outcome of CheckBudget (§4.8).
type CheckResult struct {
	Allowed bool
	Reason  string
	Warning string // set when the check itself degraded (fail-open)
}

// Summary aggregates a principal's spend over a period (§4.8's summary op).
type Summary struct {
	PrincipalID string
	PeriodStart time.Time
	Spent       decimal.Decimal
	Limit       *decimal.Decimal
}

// Controller is the Budget Controller.
type Controller struct {
	db                    storage.DB
	outbox                *storage.Outbox
	periodBoundaryUTCHour int
	logger                logging.ComponentAwareLogger
	m                     *telemetry.Metrics
}

// Option customizes a Controller.
type Option func(*Controller)

func WithLogger(l logging.ComponentAwareLogger) Option {
	return func(c *Controller) { c.logger = l.WithComponent("budget") }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Controller) { c.m = m }
}

// New constructs a Controller. periodBoundaryUTCHour is the UTC hour the
// daily period rolls over at (§4.8: "rolls at a configurable wall-clock
// boundary").
func New(db storage.DB, outbox *storage.Outbox, periodBoundaryUTCHour int, opts ...Option) *Controller {
	c := &Controller{db: db, outbox: outbox, periodBoundaryUTCHour: periodBoundaryUTCHour, logger: logging.NoOp()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) periodStart(now time.Time) time.Time {
	boundary := time.Date(now.Year(), now.Month(), now.Day(), c.periodBoundaryUTCHour, 0, 0, 0, time.UTC)
	if now.Before(boundary) {
		boundary = boundary.AddDate(0, 0, -1)
	}
	return boundary
}

// CheckBudget reports whether principalID may spend estimatedCost in the
// current period: allowed iff no limit is configured, or
// spent_period + estimated <= limit (§4.8). A backend failure fails open
// with a warning marker rather than blocking the caller.
func (c *Controller) CheckBudget(ctx context.Context, principalID string, estimatedCost decimal.Decimal) (CheckResult, error) {
	now := time.Now().UTC()
	periodStart := c.periodStart(now)

	var limitValue *decimal.Decimal
	var spent decimal.Decimal

	row := c.db.QueryRow(ctx,
		`SELECT daily_limit, spent FROM budgets WHERE principal_id = $1 AND period_start = $2`,
		principalID, periodStart)

	var rawLimit *string
	var rawSpent string
	if err := row.Scan(&rawLimit, &rawSpent); err != nil {
		if err == pgx.ErrNoRows {
			return CheckResult{Allowed: true, Reason: "no budget row for period, unlimited by default"}, nil
		}
		c.logger.WarnContext(ctx, "budget check backend failure, failing open", map[string]interface{}{"error": err.Error()})
		return CheckResult{Allowed: true, Warning: "budget backend unavailable, failed open"}, nil
	}

	spent, _ = decimal.NewFromString(rawSpent)
	if rawLimit != nil {
		v, err := decimal.NewFromString(*rawLimit)
		if err == nil {
			limitValue = &v
		}
	}

	if limitValue == nil {
		return CheckResult{Allowed: true, Reason: "unlimited"}, nil
	}

	if spent.Add(estimatedCost).LessThanOrEqual(*limitValue) {
		return CheckResult{Allowed: true}, nil
	}
	if c.m != nil {
		c.m.BudgetDenies.Inc()
	}
	return CheckResult{Allowed: false, Reason: "daily budget would be exceeded"}, nil
}

// costRecord lists the columns of a cost_records row. Record does not use
// it; it writes the fields of a gateway.CostRecord directly.
type costRecord struct {
	ID           string
	PrincipalID  string
	ResourceID   string
	CapabilityID string
	Timestamp    time.Time
	Estimated    decimal.Decimal
	Actual       *decimal.Decimal
	ProviderTag  string
}

// Record persists a cost record and updates the principal's running spend
// for the record's period, using the actual cost when available else the
// estimate (§4.8). On backend failure the record is appended to the
// durable outbox for replay rather than lost.
func (c *Controller) Record(ctx context.Context, record gateway.CostRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	periodStart := c.periodStart(record.Timestamp.UTC())
	effective := record.EffectiveCost()

	tx, err := c.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return c.toOutbox(record, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO cost_records (id, principal_id, resource_id, capability_id, ts, estimated, actual, provider_tag, trace_id)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		record.ID, record.PrincipalID, record.ResourceID, record.CapabilityID, record.Timestamp,
		record.Estimated.String(), nullableDecimal(record.Actual), record.ProviderTag, record.TraceID,
	); err != nil {
		return c.toOutbox(record, err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO budgets (principal_id, period_start, spent, daily_limit)
		 VALUES ($1, $2, $3, NULL)
		 ON CONFLICT (principal_id, period_start)
		 DO UPDATE SET spent = budgets.spent::numeric + EXCLUDED.spent::numeric`,
		record.PrincipalID, periodStart, effective.String(),
	); err != nil {
		return c.toOutbox(record, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return c.toOutbox(record, err)
	}
	return nil
}

func (c *Controller) toOutbox(record gateway.CostRecord, cause error) error {
	c.logger.WarnContext(context.Background(), "budget record failed, spooling to outbox", map[string]interface{}{"error": cause.Error()})
	if c.outbox == nil {
		return gwerrors.Wrap(gwerrors.KindInternal, "budget.Record", "no outbox configured and write failed", cause)
	}
	if err := c.outbox.Append(record); err != nil {
		return gwerrors.Wrap(gwerrors.KindInternal, "budget.Record", "outbox append also failed", err)
	}
	return nil
}

func nullableDecimal(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

// GetSummary returns a principal's spend for the period containing at.
func (c *Controller) GetSummary(ctx context.Context, principalID string, at time.Time) (Summary, error) {
	periodStart := c.periodStart(at.UTC())
	row := c.db.QueryRow(ctx,
		`SELECT daily_limit, spent FROM budgets WHERE principal_id = $1 AND period_start = $2`,
		principalID, periodStart)

	var rawLimit *string
	var rawSpent string
	if err := row.Scan(&rawLimit, &rawSpent); err != nil {
		if err == pgx.ErrNoRows {
			return Summary{PrincipalID: principalID, PeriodStart: periodStart, Spent: decimal.Zero}, nil
		}
		return Summary{}, gwerrors.Wrap(gwerrors.KindInternal, "budget.GetSummary", "query budget row", err)
	}

	spent, _ := decimal.NewFromString(rawSpent)
	summary := Summary{PrincipalID: principalID, PeriodStart: periodStart, Spent: spent}
	if rawLimit != nil {
		if v, err := decimal.NewFromString(*rawLimit); err == nil {
			summary.Limit = &v
		}
	}
	return summary, nil
}
