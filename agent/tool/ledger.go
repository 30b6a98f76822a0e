package tool

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
	tenantx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/tenant"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

var (
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrAlreadyConfirmed = errors.New("payment already confirmed")
)

const (
	paymentStatusPending   = "pending"
	paymentStatusConfirmed = "confirmed"
	openAttempts           = 3
)

type paymentRow struct {
	bun.BaseModel `bun:"table:grace_payments,alias:gp"`

	Reference        string    `bun:"reference,pk"`
	TenantID         string    `bun:"tenant_id,notnull"`
	CustomerID       string    `bun:"customer_id,notnull"`
	Amount           int64     `bun:"amount,notnull"`
	Currency         string    `bun:"currency,notnull"`
	VerificationCode string    `bun:"verification_code,notnull"`
	Status           string    `bun:"status,notnull"`
	CreatedAt        time.Time `bun:"created_at,notnull"`
	ConfirmedAt      time.Time `bun:"confirmed_at,nullzero"`
}

// Confirmation is what an accountant verification resolves to.
type Confirmation struct {
	Reference  string
	TenantID   string
	CustomerID string
	Amount     int64
	Currency   string
}

// LedgerPayments keeps expected deposits in Postgres. An accountant confirms a deposit
// by replying with its 4-digit verification code.
type LedgerPayments struct {
	db  bun.IDB
	now func() time.Time
}

var (
	_ PaymentProvider         = (*LedgerPayments)(nil)
	_ contractx.PaymentLedger = (*LedgerPayments)(nil)
)

func NewLedgerPayments(db bun.IDB) *LedgerPayments {
	return &LedgerPayments{db: db, now: time.Now}
}

func (l *LedgerPayments) Migrate(ctx context.Context) error {
	if _, err := l.db.NewCreateTable().Model((*paymentRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create payments table: %w", err)
	}
	if _, err := l.db.NewCreateIndex().
		Model((*paymentRow)(nil)).
		Index("grace_payments_pending_code_idx").
		IfNotExists().
		Unique().
		Column("verification_code").
		Where("status = 'pending'").
		Exec(ctx); err != nil {
		return fmt.Errorf("create payments code index: %w", err)
	}
	return nil
}

// Open records a pending deposit for ev.Reference and returns its verification code.
// Re-opening an existing reference returns the code already issued.
func (l *LedgerPayments) Open(ctx context.Context, ev contractx.PaymentRequestedEvent) (string, error) {
	if strings.TrimSpace(ev.Reference) == "" || strings.TrimSpace(ev.TenantID) == "" {
		return "", fmt.Errorf("%w: reference and tenant are required", contractx.ErrValidation)
	}

	var lastErr error
	for attempt := 0; attempt < openAttempts; attempt++ {
		code, err := verificationCode()
		if err != nil {
			return "", err
		}
		row := &paymentRow{
			Reference:        ev.Reference,
			TenantID:         ev.TenantID,
			CustomerID:       ev.CustomerID,
			Amount:           ev.Amount,
			Currency:         ev.Currency,
			VerificationCode: code,
			Status:           paymentStatusPending,
			CreatedAt:        l.now().UTC(),
		}
		err = l.db.NewInsert().
			Model(row).
			On("CONFLICT (reference) DO UPDATE").
			Set("amount = EXCLUDED.amount").
			Returning("verification_code").
			Scan(ctx)
		if err == nil {
			return row.VerificationCode, nil
		}
		lastErr = err
		var pgErr pgdriver.Error
		if !errors.As(err, &pgErr) || !pgErr.IntegrityViolation() {
			break
		}
		log.Debug().Str("reference", ev.Reference).Msg("verification code collision, retrying")
	}
	return "", fmt.Errorf("open payment %s: %w", ev.Reference, lastErr)
}

// Confirm marks the pending deposit carrying code as paid. A non-empty tenantID
// restricts the lookup to that tenant's payments.
func (l *LedgerPayments) Confirm(ctx context.Context, tenantID, code string) (Confirmation, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Confirmation{}, fmt.Errorf("%w: verification code is required", contractx.ErrValidation)
	}
	tenantID = strings.TrimSpace(tenantID)

	row := new(paymentRow)
	update := l.db.NewUpdate().
		Model(row).
		Set("status = ?", paymentStatusConfirmed).
		Set("confirmed_at = ?", l.now().UTC()).
		Where("verification_code = ?", code).
		Where("status = ?", paymentStatusPending)
	if tenantID != "" {
		update = update.Where("tenant_id = ?", tenantID)
	}
	err := update.Returning("*").Scan(ctx)
	switch {
	case err == nil:
		return Confirmation{
			Reference:  row.Reference,
			TenantID:   row.TenantID,
			CustomerID: row.CustomerID,
			Amount:     row.Amount,
			Currency:   row.Currency,
		}, nil
	case !errors.Is(err, sql.ErrNoRows):
		return Confirmation{}, fmt.Errorf("confirm payment: %w", err)
	}

	exists := l.db.NewSelect().
		Model((*paymentRow)(nil)).
		Where("verification_code = ?", code).
		Where("status = ?", paymentStatusConfirmed)
	if tenantID != "" {
		exists = exists.Where("tenant_id = ?", tenantID)
	}
	confirmed, err := exists.Exists(ctx)
	if err != nil {
		return Confirmation{}, fmt.Errorf("confirm payment: %w", err)
	}
	if confirmed {
		return Confirmation{}, ErrAlreadyConfirmed
	}
	return Confirmation{}, ErrPaymentNotFound
}

func (l *LedgerPayments) Status(ctx context.Context, t tenantx.Tenant, reference string) (contractx.PaymentInfo, error) {
	row := new(paymentRow)
	err := l.db.NewSelect().
		Model(row).
		Where("?TableAlias.reference = ?", reference).
		Where("?TableAlias.tenant_id = ?", t.ID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return contractx.PaymentInfo{State: contractx.PaymentStateNotFound}, nil
	}
	if err != nil {
		return contractx.PaymentInfo{}, fmt.Errorf("payment status: %w", err)
	}

	info := contractx.PaymentInfo{State: contractx.PaymentStatePending, Amount: row.Amount}
	if row.Status == paymentStatusConfirmed {
		info.State = contractx.PaymentStateConfirmed
		info.ConfirmedAt = row.ConfirmedAt
	}
	return info, nil
}

func verificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}
