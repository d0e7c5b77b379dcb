package repository

// Schema definitions for the Heron rule catalog.
// Compatible with both SQLite and PostgreSQL.
// Monetary columns are stored as TEXT so decimal values round-trip exactly.

const schemaCommissionRules = `
CREATE TABLE IF NOT EXISTS commission_rules (
    id TEXT PRIMARY KEY,
    service_type TEXT NOT NULL,
    actor_role TEXT NOT NULL,
    description TEXT,
    calculation_type TEXT NOT NULL,
    rate TEXT NOT NULL DEFAULT '0',
    flat_fee TEXT NOT NULL DEFAULT '0',
    minimum_amount TEXT,
    maximum_amount TEXT,
    min_transaction_amount TEXT,
    max_transaction_amount TEXT,
    geographic_zone TEXT,
    time_of_day TEXT NOT NULL DEFAULT 'ANYTIME',
    days_of_week TEXT,
    condition TEXT,
    valid_from TIMESTAMP NOT NULL,
    valid_until TIMESTAMP,
    is_active INTEGER NOT NULL DEFAULT 1,
    currency TEXT NOT NULL DEFAULT 'EUR',
    country_code TEXT,
    payout_schedule TEXT,
    notes TEXT,
    created_by TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_pair ON commission_rules(service_type, actor_role);
CREATE INDEX IF NOT EXISTS idx_rules_active ON commission_rules(service_type, actor_role, is_active);
CREATE INDEX IF NOT EXISTS idx_rules_validity ON commission_rules(valid_from, valid_until);
`

const schemaCommissionRecords = `
CREATE TABLE IF NOT EXISTS commission_records (
    id TEXT PRIMARY KEY,
    rule_id TEXT,
    service_type TEXT NOT NULL,
    actor_role TEXT NOT NULL,
    geographic_zone TEXT,
    amount TEXT NOT NULL,
    commission_amount TEXT NOT NULL,
    effective_rate TEXT NOT NULL,
    calculated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_time ON commission_records(calculated_at);
CREATE INDEX IF NOT EXISTS idx_records_rule ON commission_records(rule_id);
CREATE INDEX IF NOT EXISTS idx_records_pair ON commission_records(service_type, actor_role);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCommissionRules,
		schemaCommissionRecords,
	}
}
