package entitlements

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"

	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Decision is the outcome of one entitlement check
type Decision struct {
	Key      string       `json:"key"`
	Kind     ResourceKind `json:"kind"`
	Resource string       `json:"resource"`
	Allowed  bool         `json:"allowed"`
	Current  *int64       `json:"current,omitempty"`
	Limit    *int64       `json:"limit,omitempty"`

	// FailOpen is set when the lookup failed and the request was let through
	FailOpen bool `json:"failOpen,omitempty"`
}

// Err returns the LimitError for a denied decision, or nil
func (d *Decision) Err() error {
	if d.Allowed {
		return nil
	}
	le := &LimitError{Key: d.Key, Kind: d.Kind, Resource: d.Resource}
	switch d.Kind {
	case ResourceFeature:
		le.Code = CodePlanFeatureLocked
	case ResourceModule:
		le.Code = CodePlanModuleLocked
	default:
		le.Code = CodePlanLimitReached
	}
	if d.Current != nil {
		le.Current = *d.Current
	}
	if d.Limit != nil {
		le.Limit = *d.Limit
	}
	return le
}

// queryer is satisfied by *sql.DB and *sql.Tx
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Evaluator checks tenant entitlements against subscriptions and plans
type Evaluator struct {
	db       *sql.DB
	registry *Registry
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewEvaluator creates an entitlement evaluator. metrics may be nil.
func NewEvaluator(db *sql.DB, registry *Registry, logger *observability.Logger, metrics *observability.Metrics) *Evaluator {
	return &Evaluator{
		db:       db,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
	}
}

// Registry returns the registry the evaluator resolves keys with
func (e *Evaluator) Registry() *Registry {
	return e.registry
}

// Check decides whether tenantID may consume key. Lookup failures are
// logged and produce an allowed decision with FailOpen set; the only
// error returned is ErrUnknownKey.
func (e *Evaluator) Check(ctx context.Context, tenantID int64, key string) (*Decision, error) {
	res, ok := e.registry.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	decision, err := e.evaluate(ctx, e.db, res, tenantID, true)
	if err != nil {
		e.logger.WithFields(map[string]interface{}{
			"tenant_id": tenantID,
			"key":       key,
		}).WithError(err).Error("entitlement lookup failed, allowing request")
		e.metrics.RecordFailOpen("entitlements")
		e.metrics.RecordEntitlement(key, observability.OutcomeFailOpen)
		return &Decision{Key: key, Kind: res.Kind, Resource: res.Label, Allowed: true, FailOpen: true}, nil
	}

	outcome := observability.OutcomeAllow
	if !decision.Allowed {
		outcome = observability.OutcomeDeny
	}
	e.metrics.RecordEntitlement(key, outcome)
	return decision, nil
}

// WithinLimit runs fn inside a transaction only if the count key is still
// below its limit. Concurrent callers for the same tenant and key are
// serialised by pg_advisory_xact_lock, so the count fn sees is exact.
// Unlike Check, lookup failures are returned, not failed open.
// Require is advisory; handlers inserting metered rows are expected to call
// WithinLimit so the limit holds under concurrent inserts.
func (e *Evaluator) WithinLimit(ctx context.Context, tenantID int64, key string, fn func(tx *sql.Tx) error) error {
	res, ok := e.registry.Lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if res.Kind != ResourceCount {
		return fmt.Errorf("entitlement %s is not a count key", key)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey(tenantID, key)); err != nil {
		return fmt.Errorf("failed to acquire entitlement lock: %w", err)
	}

	decision, err := e.evaluate(ctx, tx, res, tenantID, false)
	if err != nil {
		return err
	}
	if err := decision.Err(); err != nil {
		e.metrics.RecordEntitlement(key, observability.OutcomeDeny)
		return err
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	e.metrics.RecordEntitlement(key, observability.OutcomeAllow)
	return nil
}

// lockKey folds tenant and key into the bigint advisory lock space
func lockKey(tenantID int64, key string) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "entitlement:%d:%s", tenantID, key)
	return int64(h.Sum64())
}

func (e *Evaluator) evaluate(ctx context.Context, q queryer, res Resource, tenantID int64, concurrent bool) (*Decision, error) {
	decision := &Decision{Key: res.Key, Kind: res.Kind, Resource: res.Label}

	switch res.Kind {
	case ResourceCount:
		var limit, current int64
		if concurrent {
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				var err error
				limit, _, err = planLimit(gctx, q, res, tenantID)
				return err
			})
			g.Go(func() error {
				var err error
				current, err = rowCount(gctx, q, res, tenantID)
				return err
			})
			if err := g.Wait(); err != nil {
				return nil, err
			}
		} else {
			var err error
			if limit, _, err = planLimit(ctx, q, res, tenantID); err != nil {
				return nil, err
			}
			if current, err = rowCount(ctx, q, res, tenantID); err != nil {
				return nil, err
			}
		}
		decision.Limit, decision.Current = &limit, &current
		decision.Allowed = current < limit

	case ResourceValue:
		limit, current, err := planLimit(ctx, q, res, tenantID)
		if err != nil {
			return nil, err
		}
		decision.Limit, decision.Current = &limit, &current
		decision.Allowed = current < limit

	case ResourceFeature:
		enabled, err := featureEnabled(ctx, q, res, tenantID)
		if err != nil {
			return nil, err
		}
		decision.Allowed = enabled

	case ResourceModule:
		enabled, err := moduleEnabled(ctx, q, res, tenantID)
		if err != nil {
			return nil, err
		}
		decision.Allowed = enabled

	default:
		return nil, fmt.Errorf("unsupported resource kind %q", res.Kind)
	}

	return decision, nil
}

// planLimit returns override ?? plan default ?? 0, and for value keys the
// usage column. A tenant without an active subscription resolves to 0.
func planLimit(ctx context.Context, q queryer, res Resource, tenantID int64) (limit, usage int64, err error) {
	override := "NULL"
	if res.OverrideColumn != "" {
		override = "s." + pq.QuoteIdentifier(res.OverrideColumn)
	}
	usageExpr := "0"
	if res.UsageColumn != "" {
		usageExpr = "s." + pq.QuoteIdentifier(res.UsageColumn)
	}

	query := fmt.Sprintf(`
		SELECT %s, p.%s, %s
		FROM subscriptions s
		JOIN plans p ON p.id = s.plan_id
		WHERE s.tenant_id = $1 AND s.is_active = true
	`, override, pq.QuoteIdentifier(res.LimitColumn), usageExpr)

	var overrideValue, planDefault, usageValue sql.NullInt64
	err = q.QueryRowContext(ctx, query, tenantID).Scan(&overrideValue, &planDefault, &usageValue)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load subscription limit for %s: %w", res.Key, err)
	}

	switch {
	case overrideValue.Valid:
		limit = overrideValue.Int64
	case planDefault.Valid:
		limit = planDefault.Int64
	}
	return limit, usageValue.Int64, nil
}

func rowCount(ctx context.Context, q queryer, res Resource, tenantID int64) (int64, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE tenant_id = $1`, pq.QuoteIdentifier(res.Table))

	var count int64
	if err := q.QueryRowContext(ctx, query, tenantID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", res.Table, err)
	}
	return count, nil
}

func featureEnabled(ctx context.Context, q queryer, res Resource, tenantID int64) (bool, error) {
	override := "NULL"
	if res.OverrideColumn != "" {
		override = "s." + pq.QuoteIdentifier(res.OverrideColumn)
	}

	query := fmt.Sprintf(`
		SELECT %s, p.%s
		FROM subscriptions s
		JOIN plans p ON p.id = s.plan_id
		WHERE s.tenant_id = $1 AND s.is_active = true
	`, override, pq.QuoteIdentifier(res.LimitColumn))

	var overrideValue, planFlag sql.NullBool
	err := q.QueryRowContext(ctx, query, tenantID).Scan(&overrideValue, &planFlag)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load feature %s: %w", res.Key, err)
	}

	if overrideValue.Valid {
		return overrideValue.Bool, nil
	}
	return planFlag.Valid && planFlag.Bool, nil
}

func moduleEnabled(ctx context.Context, q queryer, res Resource, tenantID int64) (bool, error) {
	query := `
		SELECT p.modules
		FROM subscriptions s
		JOIN plans p ON p.id = s.plan_id
		WHERE s.tenant_id = $1 AND s.is_active = true
	`

	var raw []byte
	err := q.QueryRowContext(ctx, query, tenantID).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load plan modules: %w", err)
	}
	if len(raw) == 0 {
		return false, nil
	}

	var modules map[string]interface{}
	if err := json.Unmarshal(raw, &modules); err != nil {
		return false, fmt.Errorf("failed to decode plan modules: %w", err)
	}
	enabled, _ := modules[res.Module].(bool)
	return enabled, nil
}
