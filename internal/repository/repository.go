// Package repository provides the SQL-backed rule store.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/opensource-logistics/heron/internal/domain"
	"github.com/shopspring/decimal"
)

// SQLStore implements domain.RuleStore using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// New creates a new rule store based on configuration.
func New(cfg domain.RepositoryConfig) (domain.RuleStore, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := &SQLStore{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *SQLStore) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const ruleColumns = `
	id, service_type, actor_role, description, calculation_type,
	rate, flat_fee, minimum_amount, maximum_amount,
	min_transaction_amount, max_transaction_amount,
	geographic_zone, time_of_day, days_of_week, condition,
	valid_from, valid_until, is_active,
	currency, country_code, payout_schedule, notes,
	created_by, created_at, updated_at`

// FindCandidates returns the active rules for the pair. Validity windows
// are deliberately not filtered here: the resolver checks them against the
// transaction's reference time, so one candidate set serves resolutions at
// any point in time.
func (s *SQLStore) FindCandidates(ctx context.Context, serviceType string, role domain.ActorRole) ([]*domain.CommissionRule, error) {
	if serviceType == "" || !role.Valid() {
		return nil, fmt.Errorf("%w: serviceType and a valid actorRole are required", domain.ErrInvalidInput)
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM commission_rules
		WHERE service_type = ? AND actor_role = ?
		  AND is_active = 1
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), serviceType, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRules(rows)
}

// Insert persists a new rule after checking the no-overlap invariant.
// The check-then-insert runs inside one transaction so two racing inserts
// for the same pair cannot both succeed.
func (s *SQLStore) Insert(ctx context.Context, rule *domain.CommissionRule) (*domain.CommissionRule, error) {
	if rule == nil {
		return nil, fmt.Errorf("%w: rule is required", domain.ErrInvalidInput)
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	stored := *rule
	now := time.Now().UTC()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.ValidFrom.IsZero() {
		stored.ValidFrom = now
	}
	if stored.Currency == "" {
		stored.Currency = "EUR"
	}
	if stored.TimeOfDay == "" {
		stored.TimeOfDay = domain.TimeAnytime
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now

	// A minimum clamp above the maximum is accepted, not rejected; the
	// calculation engine resolves it with the maximum winning. Flag it
	// for the operator.
	if stored.MinimumAmount != nil && stored.MaximumAmount != nil &&
		stored.MinimumAmount.GreaterThan(*stored.MaximumAmount) {
		slog.Warn("rule minimum clamp exceeds maximum clamp",
			"service_type", stored.ServiceType,
			"actor_role", stored.ActorRole,
			"minimum", stored.MinimumAmount,
			"maximum", stored.MaximumAmount,
		)
	}

	txOpts := &sql.TxOptions{}
	if s.driver == "postgres" {
		txOpts.Isolation = sql.LevelSerializable
	}

	tx, err := s.db.BeginTx(ctx, txOpts)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// The invariant only concerns active rules for the same pair; an
	// inactive insert can never create resolution ambiguity. Rules scoped
	// to different zones may coexist: the resolver's specificity ordering
	// disambiguates them at query time.
	if stored.IsActive {
		existing, err := s.activeRulesForPair(ctx, tx, stored.ServiceType, stored.ActorRole)
		if err != nil {
			return nil, err
		}
		for _, other := range existing {
			if other.GeographicZone != stored.GeographicZone {
				continue
			}
			if stored.Overlaps(other) {
				return nil, fmt.Errorf("%w: rule %s for (%s, %s) is valid from %s",
					domain.ErrConflict, other.ID, other.ServiceType, other.ActorRole,
					other.ValidFrom.Format(time.RFC3339))
			}
		}
	}

	query := `
		INSERT INTO commission_rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if _, err := tx.ExecContext(ctx, s.rebind(query), ruleArgs(&stored)...); err != nil {
		return nil, insertError(err, &stored)
	}

	if err := tx.Commit(); err != nil {
		return nil, insertError(err, &stored)
	}

	return &stored, nil
}

// insertError maps a postgres serialization failure (SQLSTATE 40001) to
// ErrConflict: under serializable isolation a racing insert for the same
// pair loses the check-then-insert and aborts with 40001, and the caller
// should see the same conflict signal as a detected overlap.
func insertError(err error, rule *domain.CommissionRule) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "40001" {
		return fmt.Errorf("%w: concurrent rule insert for (%s, %s)",
			domain.ErrConflict, rule.ServiceType, rule.ActorRole)
	}
	return err
}

// Deactivate sets isActive=false, stamps validUntil=now and appends the
// reason to the rule's notes. Rules are never physically deleted.
func (s *SQLStore) Deactivate(ctx context.Context, ruleID, reason string) (*domain.CommissionRule, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("%w: ruleID is required", domain.ErrInvalidInput)
	}

	rule, err := s.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rule.IsActive = false
	rule.ValidUntil = &now
	rule.UpdatedAt = now
	if reason != "" {
		if rule.Notes != "" {
			rule.Notes += "\n"
		}
		rule.Notes += fmt.Sprintf("[%s] deactivated: %s", now.Format(time.RFC3339), reason)
	}

	query := `
		UPDATE commission_rules
		SET is_active = 0, valid_until = ?, notes = ?, updated_at = ?
		WHERE id = ?
	`

	if _, err := s.db.ExecContext(ctx, s.rebind(query), now, rule.Notes, now, ruleID); err != nil {
		return nil, err
	}

	return rule, nil
}

// Update replaces only the supplied fields. The overlap invariant is not
// re-checked here; administrative callers are trusted.
func (s *SQLStore) Update(ctx context.Context, ruleID string, patch *domain.RulePatch) (*domain.CommissionRule, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("%w: ruleID is required", domain.ErrInvalidInput)
	}

	rule, err := s.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return rule, nil
	}

	applyPatch(rule, patch)
	rule.UpdatedAt = time.Now().UTC()

	if err := rule.Validate(); err != nil {
		return nil, err
	}

	query := `
		UPDATE commission_rules SET
			description = ?, calculation_type = ?, rate = ?, flat_fee = ?,
			minimum_amount = ?, maximum_amount = ?,
			min_transaction_amount = ?, max_transaction_amount = ?,
			geographic_zone = ?, time_of_day = ?, days_of_week = ?, condition = ?,
			valid_from = ?, valid_until = ?, is_active = ?, notes = ?, updated_at = ?
		WHERE id = ?
	`

	args := []any{
		rule.Description, string(rule.Calculation), rule.Rate.String(), rule.FlatFee.String(),
		nullDecimal(rule.MinimumAmount), nullDecimal(rule.MaximumAmount),
		nullDecimal(rule.MinTransactionAmount), nullDecimal(rule.MaxTransactionAmount),
		nullString(rule.GeographicZone), string(rule.TimeOfDay), marshalDays(rule.DaysOfWeek), nullString(rule.Condition),
		rule.ValidFrom, nullTime(rule.ValidUntil), boolInt(rule.IsActive), rule.Notes, rule.UpdatedAt,
		ruleID,
	}

	if _, err := s.db.ExecContext(ctx, s.rebind(query), args...); err != nil {
		return nil, err
	}

	return rule, nil
}

// GetRule fetches a single rule by id.
func (s *SQLStore) GetRule(ctx context.Context, ruleID string) (*domain.CommissionRule, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("%w: ruleID is required", domain.ErrInvalidInput)
	}

	query := `SELECT ` + ruleColumns + ` FROM commission_rules WHERE id = ?`

	rule, err := scanRule(s.db.QueryRowContext(ctx, s.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListRules returns the whole catalog, active and inactive.
func (s *SQLStore) ListRules(ctx context.Context) ([]*domain.CommissionRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM commission_rules
		ORDER BY service_type, actor_role, created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRules(rows)
}

// SaveCalculation records one calculation outcome.
func (s *SQLStore) SaveCalculation(ctx context.Context, rec *domain.CommissionRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: record is required", domain.ErrInvalidInput)
	}

	stored := *rec
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CalculatedAt.IsZero() {
		stored.CalculatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO commission_records (
			id, rule_id, service_type, actor_role, geographic_zone,
			amount, commission_amount, effective_rate, calculated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		stored.ID, nullString(stored.RuleID), stored.ServiceType, string(stored.ActorRole),
		nullString(stored.GeographicZone),
		stored.Amount.String(), stored.CommissionAmount.String(), stored.EffectiveRate.String(),
		stored.CalculatedAt,
	)
	return err
}

// ListCalculations returns recorded outcomes within [from, to].
func (s *SQLStore) ListCalculations(ctx context.Context, from, to time.Time) ([]*domain.CommissionRecord, error) {
	query := `
		SELECT id, rule_id, service_type, actor_role, geographic_zone,
		       amount, commission_amount, effective_rate, calculated_at
		FROM commission_records
		WHERE calculated_at >= ? AND calculated_at <= ?
		ORDER BY calculated_at DESC
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.CommissionRecord
	for rows.Next() {
		var rec domain.CommissionRecord
		var ruleID, zone sql.NullString
		var amount, commission, rate string
		var role string

		if err := rows.Scan(
			&rec.ID, &ruleID, &rec.ServiceType, &role, &zone,
			&amount, &commission, &rate, &rec.CalculatedAt,
		); err != nil {
			return nil, err
		}

		rec.RuleID = ruleID.String
		rec.GeographicZone = zone.String
		rec.ActorRole = domain.ActorRole(role)
		if rec.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("failed to parse record amount: %w", err)
		}
		if rec.CommissionAmount, err = decimal.NewFromString(commission); err != nil {
			return nil, fmt.Errorf("failed to parse record commission: %w", err)
		}
		if rec.EffectiveRate, err = decimal.NewFromString(rate); err != nil {
			return nil, fmt.Errorf("failed to parse record rate: %w", err)
		}

		records = append(records, &rec)
	}

	return records, rows.Err()
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// activeRulesForPair loads the active rules for one pair inside a
// transaction, for the overlap check.
func (s *SQLStore) activeRulesForPair(ctx context.Context, tx *sql.Tx, serviceType string, role domain.ActorRole) ([]*domain.CommissionRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM commission_rules
		WHERE service_type = ? AND actor_role = ? AND is_active = 1
	`

	rows, err := tx.QueryContext(ctx, s.rebind(query), serviceType, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRules(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.CommissionRule, error) {
	var r domain.CommissionRule
	var role, calc, timeOfDay string
	var rate, flatFee string
	var description, minAmt, maxAmt, minTx, maxTx sql.NullString
	var zone, days, condition, currency, country, payout, notes, createdBy sql.NullString
	var validUntil sql.NullTime
	var active int

	err := row.Scan(
		&r.ID, &r.ServiceType, &role, &description, &calc,
		&rate, &flatFee, &minAmt, &maxAmt,
		&minTx, &maxTx,
		&zone, &timeOfDay, &days, &condition,
		&r.ValidFrom, &validUntil, &active,
		&currency, &country, &payout, &notes,
		&createdBy, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.ActorRole = domain.ActorRole(role)
	r.Calculation = domain.CalculationType(calc)
	r.TimeOfDay = domain.TimeOfDay(timeOfDay)
	r.Description = description.String
	r.GeographicZone = zone.String
	r.Condition = condition.String
	r.Currency = currency.String
	r.CountryCode = country.String
	r.PayoutSchedule = payout.String
	r.Notes = notes.String
	r.CreatedBy = createdBy.String
	r.IsActive = active == 1
	if validUntil.Valid {
		t := validUntil.Time
		r.ValidUntil = &t
	}

	if r.Rate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("failed to parse rate for rule %s: %w", r.ID, err)
	}
	if r.FlatFee, err = decimal.NewFromString(flatFee); err != nil {
		return nil, fmt.Errorf("failed to parse flat fee for rule %s: %w", r.ID, err)
	}
	if r.MinimumAmount, err = parseNullDecimal(minAmt); err != nil {
		return nil, err
	}
	if r.MaximumAmount, err = parseNullDecimal(maxAmt); err != nil {
		return nil, err
	}
	if r.MinTransactionAmount, err = parseNullDecimal(minTx); err != nil {
		return nil, err
	}
	if r.MaxTransactionAmount, err = parseNullDecimal(maxTx); err != nil {
		return nil, err
	}

	if days.Valid && days.String != "" {
		if err := json.Unmarshal([]byte(days.String), &r.DaysOfWeek); err != nil {
			return nil, fmt.Errorf("failed to parse days of week for rule %s: %w", r.ID, err)
		}
	}

	return &r, nil
}

func collectRules(rows *sql.Rows) ([]*domain.CommissionRule, error) {
	var rules []*domain.CommissionRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func ruleArgs(r *domain.CommissionRule) []any {
	return []any{
		r.ID, r.ServiceType, string(r.ActorRole), r.Description, string(r.Calculation),
		r.Rate.String(), r.FlatFee.String(),
		nullDecimal(r.MinimumAmount), nullDecimal(r.MaximumAmount),
		nullDecimal(r.MinTransactionAmount), nullDecimal(r.MaxTransactionAmount),
		nullString(r.GeographicZone), string(r.TimeOfDay), marshalDays(r.DaysOfWeek), nullString(r.Condition),
		r.ValidFrom, nullTime(r.ValidUntil), boolInt(r.IsActive),
		r.Currency, nullString(r.CountryCode), nullString(r.PayoutSchedule), r.Notes,
		nullString(r.CreatedBy), r.CreatedAt, r.UpdatedAt,
	}
}

func applyPatch(rule *domain.CommissionRule, patch *domain.RulePatch) {
	if patch.Description != nil {
		rule.Description = *patch.Description
	}
	if patch.Rate != nil {
		rule.Rate = *patch.Rate
	}
	if patch.FlatFee != nil {
		rule.FlatFee = *patch.FlatFee
	}
	if patch.MinimumAmount != nil {
		rule.MinimumAmount = patch.MinimumAmount
	}
	if patch.MaximumAmount != nil {
		rule.MaximumAmount = patch.MaximumAmount
	}
	if patch.MinTransactionAmount != nil {
		rule.MinTransactionAmount = patch.MinTransactionAmount
	}
	if patch.MaxTransactionAmount != nil {
		rule.MaxTransactionAmount = patch.MaxTransactionAmount
	}
	if patch.GeographicZone != nil {
		rule.GeographicZone = *patch.GeographicZone
	}
	if patch.TimeOfDay != nil {
		rule.TimeOfDay = *patch.TimeOfDay
	}
	if patch.DaysOfWeek != nil {
		rule.DaysOfWeek = *patch.DaysOfWeek
	}
	if patch.Condition != nil {
		rule.Condition = *patch.Condition
	}
	if patch.ValidFrom != nil {
		rule.ValidFrom = *patch.ValidFrom
	}
	if patch.ValidUntil != nil {
		rule.ValidUntil = patch.ValidUntil
	}
	if patch.IsActive != nil {
		rule.IsActive = *patch.IsActive
	}
	if patch.Notes != nil {
		rule.Notes = *patch.Notes
	}
}

func parseNullDecimal(v sql.NullString) (*decimal.Decimal, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse decimal column: %w", err)
	}
	return &d, nil
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalDays(days []time.Weekday) any {
	if len(days) == 0 {
		return nil
	}
	data, _ := json.Marshal(days)
	return string(data)
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
