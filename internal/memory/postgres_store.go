package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore implements Store backed by PostgreSQL, for deployments
// where learning state must survive restarts.
type PostgresStore struct {
	db               *sql.DB
	initialThreshold float64
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed learning store.
func NewPostgresStore(db *sql.DB, initialThreshold float64) *PostgresStore {
	return &PostgresStore{db: db, initialThreshold: initialThreshold}
}

// Migrate creates the learning tables if they don't exist and seeds the
// state row with the initial threshold.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS trade_records (
			id                  BIGSERIAL PRIMARY KEY,
			recorded_at         TIMESTAMPTZ NOT NULL,
			required_cash       DOUBLE PRECISION NOT NULL,
			required_securities DOUBLE PRECISION NOT NULL,
			approved            BOOLEAN NOT NULL,
			confidence_score    DOUBLE PRECISION NOT NULL,
			risk_level          VARCHAR(16) NOT NULL,
			reasoning_digest    TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_trade_records_amounts
			ON trade_records(required_cash, required_securities);

		CREATE TABLE IF NOT EXISTS threshold_adjustments (
			id          BIGSERIAL PRIMARY KEY,
			adjusted_at TIMESTAMPTZ NOT NULL,
			old_value   DOUBLE PRECISION NOT NULL,
			recommended DOUBLE PRECISION NOT NULL,
			new_value   DOUBLE PRECISION NOT NULL
		);

		CREATE TABLE IF NOT EXISTS validator_state (
			id                BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
			current_threshold DOUBLE PRECISION NOT NULL,
			approved          BIGINT NOT NULL DEFAULT 0,
			rejected          BIGINT NOT NULL DEFAULT 0
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate learning tables: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO validator_state (id, current_threshold)
		VALUES (TRUE, $1)
		ON CONFLICT (id) DO NOTHING
	`, p.initialThreshold)
	if err != nil {
		return fmt.Errorf("seed validator state: %w", err)
	}
	return nil
}

func (p *PostgresStore) Record(ctx context.Context, rec TradeRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO trade_records
			(recorded_at, required_cash, required_securities, approved, confidence_score, risk_level, reasoning_digest)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.Timestamp, rec.RequiredCash, rec.RequiredSecurities, rec.Approved, rec.ConfidenceScore, rec.RiskLevel, rec.ReasoningDigest)
	if err != nil {
		return fmt.Errorf("insert trade record: %w", err)
	}

	// Keep the history bounded, matching the in-process ring buffer.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM trade_records
		WHERE id <= (SELECT MAX(id) FROM trade_records) - $1
	`, historyCap)
	if err != nil {
		return fmt.Errorf("evict trade records: %w", err)
	}

	column := "rejected"
	if rec.Approved {
		column = "approved"
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE validator_state SET %s = %s + 1 WHERE id
	`, column, column))
	if err != nil {
		return fmt.Errorf("update totals: %w", err)
	}

	return tx.Commit()
}

func (p *PostgresStore) SimilarTrades(ctx context.Context, requiredCash, requiredSecurities float64, limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = defaultSimilarLimit
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT recorded_at, required_cash, required_securities, approved, confidence_score, risk_level, reasoning_digest
		FROM trade_records
		WHERE CASE WHEN $1 = 0 THEN required_cash = 0
			ELSE ABS(required_cash - $1) / ABS($1) <= $3 END
		AND CASE WHEN $2 = 0 THEN required_securities = 0
			ELSE ABS(required_securities - $2) / ABS($2) <= $3 END
		ORDER BY id DESC
		LIMIT $4
	`, requiredCash, requiredSecurities, similarityTolerance, limit)
	if err != nil {
		return nil, fmt.Errorf("query similar trades: %w", err)
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var rec TradeRecord
		if err := rows.Scan(&rec.Timestamp, &rec.RequiredCash, &rec.RequiredSecurities,
			&rec.Approved, &rec.ConfidenceScore, &rec.RiskLevel, &rec.ReasoningDigest); err != nil {
			return nil, fmt.Errorf("scan trade record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Threshold(ctx context.Context) (float64, error) {
	var threshold float64
	err := p.db.QueryRowContext(ctx, `SELECT current_threshold FROM validator_state WHERE id`).Scan(&threshold)
	if err != nil {
		return 0, fmt.Errorf("read threshold: %w", err)
	}
	return threshold, nil
}

func (p *PostgresStore) UpdateThreshold(ctx context.Context, recommended float64) (ThresholdAdjustment, error) {
	if !validRecommendation(recommended) {
		return ThresholdAdjustment{}, ErrBadThreshold
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return ThresholdAdjustment{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Row lock serializes concurrent smoothing steps so each reads a
	// consistent prior value.
	var old float64
	err = tx.QueryRowContext(ctx, `
		SELECT current_threshold FROM validator_state WHERE id FOR UPDATE
	`).Scan(&old)
	if err != nil {
		return ThresholdAdjustment{}, fmt.Errorf("lock threshold: %w", err)
	}

	adj := ThresholdAdjustment{
		Timestamp:   time.Now(),
		Old:         old,
		Recommended: recommended,
		New:         blend(old, recommended),
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE validator_state SET current_threshold = $1 WHERE id
	`, adj.New); err != nil {
		return ThresholdAdjustment{}, fmt.Errorf("write threshold: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO threshold_adjustments (adjusted_at, old_value, recommended, new_value)
		VALUES ($1, $2, $3, $4)
	`, adj.Timestamp, adj.Old, adj.Recommended, adj.New); err != nil {
		return ThresholdAdjustment{}, fmt.Errorf("record adjustment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM threshold_adjustments
		WHERE id <= (SELECT MAX(id) FROM threshold_adjustments) - $1
	`, adjustmentCap); err != nil {
		return ThresholdAdjustment{}, fmt.Errorf("evict adjustments: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ThresholdAdjustment{}, fmt.Errorf("commit: %w", err)
	}
	return adj, nil
}

func (p *PostgresStore) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := p.db.QueryRowContext(ctx, `
		SELECT approved, rejected FROM validator_state WHERE id
	`).Scan(&t.Approved, &t.Rejected)
	if err != nil {
		return Totals{}, fmt.Errorf("read totals: %w", err)
	}
	t.TradesProcessed = t.Approved + t.Rejected
	return t, nil
}

func (p *PostgresStore) Snapshot(ctx context.Context, recentLimit int) (Snapshot, error) {
	if recentLimit <= 0 {
		recentLimit = 10
	}

	totals, err := p.Totals(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	threshold, err := p.Threshold(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT recorded_at, required_cash, required_securities, approved, confidence_score, risk_level, reasoning_digest
		FROM trade_records ORDER BY id DESC LIMIT $1
	`, recentLimit)
	if err != nil {
		return Snapshot{}, fmt.Errorf("query recent trades: %w", err)
	}
	defer rows.Close()

	var recent []TradeRecord
	for rows.Next() {
		var rec TradeRecord
		if err := rows.Scan(&rec.Timestamp, &rec.RequiredCash, &rec.RequiredSecurities,
			&rec.Approved, &rec.ConfidenceScore, &rec.RiskLevel, &rec.ReasoningDigest); err != nil {
			return Snapshot{}, fmt.Errorf("scan trade record: %w", err)
		}
		recent = append(recent, rec)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}

	adjRows, err := p.db.QueryContext(ctx, `
		SELECT adjusted_at, old_value, recommended, new_value
		FROM threshold_adjustments ORDER BY id DESC LIMIT $1
	`, recentLimit)
	if err != nil {
		return Snapshot{}, fmt.Errorf("query adjustments: %w", err)
	}
	defer adjRows.Close()

	var adjustments []ThresholdAdjustment
	for adjRows.Next() {
		var adj ThresholdAdjustment
		if err := adjRows.Scan(&adj.Timestamp, &adj.Old, &adj.Recommended, &adj.New); err != nil {
			return Snapshot{}, fmt.Errorf("scan adjustment: %w", err)
		}
		adjustments = append(adjustments, adj)
	}
	if err := adjRows.Err(); err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Totals:            totals,
		CurrentThreshold:  threshold,
		RecentTrades:      recent,
		RecentAdjustments: adjustments,
	}, nil
}

func (p *PostgresStore) Reset(ctx context.Context) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE trade_records`,
		`TRUNCATE threshold_adjustments`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE validator_state SET current_threshold = $1, approved = 0, rejected = 0 WHERE id
	`, p.initialThreshold); err != nil {
		return fmt.Errorf("reset state: %w", err)
	}
	return tx.Commit()
}
