package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"btc-loan-sentinel/internal/model"
)

// ErrNotConfigured indicates the pool was never initialised; PGStore is
// only constructed when a DSN is present, so this signals a wiring bug.
var ErrNotConfigured = errors.New("state: pool not configured")

const (
	upsertLoanSQL = `INSERT INTO loans (
        token, loan_amount_usd, btc_collateral, margin_call_ltv,
        liquidation_ltv, chat_id, interest_rate_pct, end_date, lender
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    ON CONFLICT (token) DO UPDATE SET
        loan_amount_usd = EXCLUDED.loan_amount_usd,
        btc_collateral = EXCLUDED.btc_collateral,
        margin_call_ltv = EXCLUDED.margin_call_ltv,
        liquidation_ltv = EXCLUDED.liquidation_ltv,
        chat_id = EXCLUDED.chat_id,
        interest_rate_pct = EXCLUDED.interest_rate_pct,
        end_date = EXCLUDED.end_date,
        lender = EXCLUDED.lender;`

	selectLoanSQL = `SELECT token, loan_amount_usd, btc_collateral, margin_call_ltv,
        liquidation_ltv, chat_id, interest_rate_pct, end_date, lender
    FROM loans WHERE token = $1;`

	selectAllLoansSQL = `SELECT token, loan_amount_usd, btc_collateral, margin_call_ltv,
        liquidation_ltv, chat_id, interest_rate_pct, end_date, lender
    FROM loans;`

	upsertPriceAlertSQL = `INSERT INTO price_alerts (
        alert_id, token, threshold, direction, triggered, triggered_at
    ) VALUES ($1,$2,$3,$4,$5,$6)
    ON CONFLICT (alert_id) DO UPDATE SET
        token = EXCLUDED.token,
        threshold = EXCLUDED.threshold,
        direction = EXCLUDED.direction,
        triggered = EXCLUDED.triggered,
        triggered_at = EXCLUDED.triggered_at;`

	selectAllPriceAlertsSQL = `SELECT alert_id, token, threshold, direction, triggered, triggered_at
    FROM price_alerts;`

	upsertLTVAlertSQL = `INSERT INTO ltv_alerts (
        alert_id, token, ltv_threshold, direction, triggered, triggered_at
    ) VALUES ($1,$2,$3,$4,$5,$6)
    ON CONFLICT (alert_id) DO UPDATE SET
        token = EXCLUDED.token,
        ltv_threshold = EXCLUDED.ltv_threshold,
        direction = EXCLUDED.direction,
        triggered = EXCLUDED.triggered,
        triggered_at = EXCLUDED.triggered_at;`

	selectAllLTVAlertsSQL = `SELECT alert_id, token, ltv_threshold, direction, triggered, triggered_at
    FROM ltv_alerts;`

	triggerPriceAlertSQL = `UPDATE price_alerts SET triggered = true, triggered_at = $2 WHERE alert_id = $1;`
	triggerLTVAlertSQL   = `UPDATE ltv_alerts SET triggered = true, triggered_at = $2 WHERE alert_id = $1;`

	upsertLastPriceSQL = `INSERT INTO last_price (
        id, price, timestamp_ms, sources, twap_5m, confidence, circuit_breaker
    ) VALUES (1,$1,$2,$3,$4,$5,$6)
    ON CONFLICT (id) DO UPDATE SET
        price = EXCLUDED.price,
        timestamp_ms = EXCLUDED.timestamp_ms,
        sources = EXCLUDED.sources,
        twap_5m = EXCLUDED.twap_5m,
        confidence = EXCLUDED.confidence,
        circuit_breaker = EXCLUDED.circuit_breaker;`

	selectLastPriceSQL = `SELECT price, timestamp_ms, sources, twap_5m, confidence, circuit_breaker
    FROM last_price WHERE id = 1;`
)

// NewPool configures a PostgreSQL connection pool from a DSN, mirroring
// the optional-persistence behavior: an empty DSN is a caller error,
// not attempted here — callers should stay on MemStore instead.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	return pool, nil
}

// PGStore is a Postgres-backed Store. It implements the same interface
// as MemStore so the core can be pointed at either without change.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wires a pgx pool into a Store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Close releases the underlying pool.
func (s *PGStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *PGStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

func (s *PGStore) PutLoan(ctx context.Context, loan model.Loan) error {
	if err := validateLoan(loan); err != nil {
		return err
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, upsertLoanSQL,
		loan.Token,
		loan.LoanAmountUSD.String(),
		loan.BTCCollateral.String(),
		loan.MarginCallLTV.String(),
		loan.LiquidationLTV.String(),
		loan.ChatID,
		loan.InterestRatePct.String(),
		loan.EndDate,
		loan.Lender,
	)
	if execErr != nil {
		return fmt.Errorf("upsert loan: %w", execErr)
	}
	return nil
}

func (s *PGStore) GetLoan(ctx context.Context, token string) (model.Loan, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return model.Loan{}, false, err
	}
	row := pool.QueryRow(ctx, selectLoanSQL, token)
	loan, scanErr := scanLoan(row)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return model.Loan{}, false, nil
	}
	if scanErr != nil {
		return model.Loan{}, false, fmt.Errorf("get loan: %w", scanErr)
	}
	return loan, true, nil
}

func (s *PGStore) GetAllLoans(ctx context.Context) ([]model.Loan, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, selectAllLoansSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list loans: %w", queryErr)
	}
	defer rows.Close()

	loans := make([]model.Loan, 0)
	for rows.Next() {
		loan, scanErr := scanLoan(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		loans = append(loans, loan)
	}
	return loans, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (model.Loan, error) {
	var (
		loan                                       model.Loan
		amountStr, collateralStr, marginStr, liqStr string
		interestStr                                 string
	)
	if err := row.Scan(
		&loan.Token, &amountStr, &collateralStr, &marginStr, &liqStr,
		&loan.ChatID, &interestStr, &loan.EndDate, &loan.Lender,
	); err != nil {
		return model.Loan{}, err
	}

	var err error
	if loan.LoanAmountUSD, err = decimal.NewFromString(amountStr); err != nil {
		return model.Loan{}, fmt.Errorf("parse loan_amount_usd: %w", err)
	}
	if loan.BTCCollateral, err = decimal.NewFromString(collateralStr); err != nil {
		return model.Loan{}, fmt.Errorf("parse btc_collateral: %w", err)
	}
	if loan.MarginCallLTV, err = decimal.NewFromString(marginStr); err != nil {
		return model.Loan{}, fmt.Errorf("parse margin_call_ltv: %w", err)
	}
	if loan.LiquidationLTV, err = decimal.NewFromString(liqStr); err != nil {
		return model.Loan{}, fmt.Errorf("parse liquidation_ltv: %w", err)
	}
	if interestStr != "" {
		if loan.InterestRatePct, err = decimal.NewFromString(interestStr); err != nil {
			return model.Loan{}, fmt.Errorf("parse interest_rate_pct: %w", err)
		}
	}
	return loan, nil
}

func (s *PGStore) PutPriceAlert(ctx context.Context, alert model.PriceAlert) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, upsertPriceAlertSQL,
		alert.AlertID, alert.Token, alert.Threshold.String(), alert.Direction.String(),
		alert.Triggered, nullableTime(alert.TriggeredAt),
	)
	if execErr != nil {
		return fmt.Errorf("upsert price alert: %w", execErr)
	}
	return nil
}

func (s *PGStore) GetAllPriceAlerts(ctx context.Context) ([]model.PriceAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, selectAllPriceAlertsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list price alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]model.PriceAlert, 0)
	for rows.Next() {
		var (
			a             model.PriceAlert
			thresholdStr  string
			directionStr  string
			triggeredAt   *time.Time
		)
		if err := rows.Scan(&a.AlertID, &a.Token, &thresholdStr, &directionStr, &a.Triggered, &triggeredAt); err != nil {
			return nil, err
		}
		if a.Threshold, err = decimal.NewFromString(thresholdStr); err != nil {
			return nil, fmt.Errorf("parse threshold: %w", err)
		}
		a.Direction = parseDirection(directionStr)
		if triggeredAt != nil {
			a.TriggeredAt = *triggeredAt
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (s *PGStore) PutLTVAlert(ctx context.Context, alert model.LtvAlert) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, upsertLTVAlertSQL,
		alert.AlertID, alert.Token, alert.LTVThreshold.String(), alert.Direction.String(),
		alert.Triggered, nullableTime(alert.TriggeredAt),
	)
	if execErr != nil {
		return fmt.Errorf("upsert ltv alert: %w", execErr)
	}
	return nil
}

func (s *PGStore) GetAllLTVAlerts(ctx context.Context) ([]model.LtvAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, selectAllLTVAlertsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list ltv alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]model.LtvAlert, 0)
	for rows.Next() {
		var (
			a            model.LtvAlert
			thresholdStr string
			directionStr string
			triggeredAt  *time.Time
		)
		if err := rows.Scan(&a.AlertID, &a.Token, &thresholdStr, &directionStr, &a.Triggered, &triggeredAt); err != nil {
			return nil, err
		}
		if a.LTVThreshold, err = decimal.NewFromString(thresholdStr); err != nil {
			return nil, fmt.Errorf("parse ltv_threshold: %w", err)
		}
		a.Direction = parseDirection(directionStr)
		if triggeredAt != nil {
			a.TriggeredAt = *triggeredAt
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (s *PGStore) TriggerPriceAlert(ctx context.Context, alertID string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, triggerPriceAlertSQL, alertID, time.Now()); execErr != nil {
		return fmt.Errorf("trigger price alert: %w", execErr)
	}
	return nil
}

func (s *PGStore) TriggerLTVAlert(ctx context.Context, alertID string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, triggerLTVAlertSQL, alertID, time.Now()); execErr != nil {
		return fmt.Errorf("trigger ltv alert: %w", execErr)
	}
	return nil
}

func (s *PGStore) SetLastPrice(ctx context.Context, update model.PriceUpdate) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, upsertLastPriceSQL,
		update.Price.String(), update.TimestampMS, update.Sources,
		update.TWAP5m.String(), update.Confidence.String(), update.CircuitBreaker,
	)
	if execErr != nil {
		return fmt.Errorf("upsert last price: %w", execErr)
	}
	return nil
}

func (s *PGStore) GetLastPrice(ctx context.Context) (model.PriceUpdate, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return model.PriceUpdate{}, false, err
	}
	var (
		priceStr, twapStr, confidenceStr string
		update                           model.PriceUpdate
	)
	row := pool.QueryRow(ctx, selectLastPriceSQL)
	if scanErr := row.Scan(&priceStr, &update.TimestampMS, &update.Sources, &twapStr, &confidenceStr, &update.CircuitBreaker); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return model.PriceUpdate{}, false, nil
		}
		return model.PriceUpdate{}, false, fmt.Errorf("get last price: %w", scanErr)
	}
	if update.Price, err = decimal.NewFromString(priceStr); err != nil {
		return model.PriceUpdate{}, false, fmt.Errorf("parse price: %w", err)
	}
	if update.TWAP5m, err = decimal.NewFromString(twapStr); err != nil {
		return model.PriceUpdate{}, false, fmt.Errorf("parse twap_5m: %w", err)
	}
	update.Confidence = parseConfidence(confidenceStr)
	return update, true, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func parseDirection(s string) model.Direction {
	if s == "ABOVE" {
		return model.Above
	}
	return model.Below
}

func parseConfidence(s string) model.Confidence {
	switch s {
	case "HIGH":
		return model.High
	case "MEDIUM":
		return model.Medium
	default:
		return model.Low
	}
}
