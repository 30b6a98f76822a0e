package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func newMockLedger(t *testing.T) (*LedgerPayments, sqlmock.Sqlmock) {
	t.Helper()

	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := bun.NewDB(sqldb, pgdialect.New())
	t.Cleanup(func() { _ = db.Close() })

	ledger := NewLedgerPayments(db)
	ledger.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	return ledger, mock
}

func TestLedgerOpen(t *testing.T) {
	t.Parallel()

	ledger, mock := newMockLedger(t)
	mock.ExpectQuery(`INSERT INTO "grace_payments" .*ON CONFLICT \(reference\) DO UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"verification_code"}).AddRow("0042"))

	code, err := ledger.Open(context.Background(), contractx.PaymentRequestedEvent{
		TenantID:   "amaka",
		CustomerID: "+2348000000001",
		Reference:  "GRC-AB12CD34",
		Amount:     125000,
		Currency:   "NGN",
	})
	require.NoError(t, err)
	assert.Equal(t, "0042", code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerOpenRequiresReference(t *testing.T) {
	t.Parallel()

	ledger, _ := newMockLedger(t)
	_, err := ledger.Open(context.Background(), contractx.PaymentRequestedEvent{TenantID: "amaka"})
	assert.True(t, errors.Is(err, contractx.ErrValidation), "got %v", err)
}

func TestLedgerConfirm(t *testing.T) {
	t.Parallel()

	ledger, mock := newMockLedger(t)
	rows := sqlmock.NewRows([]string{"reference", "tenant_id", "customer_id", "amount", "currency", "verification_code", "status", "created_at", "confirmed_at"}).
		AddRow("GRC-AB12CD34", "amaka", "+2348000000001", int64(125000), "NGN", "0042", "confirmed", time.Now(), time.Now())
	mock.ExpectQuery(`UPDATE "grace_payments" .*SET status = 'confirmed'.*tenant_id = 'amaka'`).WillReturnRows(rows)

	got, err := ledger.Confirm(context.Background(), "amaka", "0042")
	require.NoError(t, err)
	assert.Equal(t, Confirmation{
		Reference:  "GRC-AB12CD34",
		TenantID:   "amaka",
		CustomerID: "+2348000000001",
		Amount:     125000,
		Currency:   "NGN",
	}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerConfirmTwice(t *testing.T) {
	t.Parallel()

	ledger, mock := newMockLedger(t)
	mock.ExpectQuery(`UPDATE "grace_payments"`).WillReturnRows(sqlmock.NewRows([]string{"reference"}))
	mock.ExpectQuery(`SELECT EXISTS`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := ledger.Confirm(context.Background(), "", "0042")
	assert.True(t, errors.Is(err, ErrAlreadyConfirmed), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerConfirmUnknownCode(t *testing.T) {
	t.Parallel()

	ledger, mock := newMockLedger(t)
	mock.ExpectQuery(`UPDATE "grace_payments"`).WillReturnRows(sqlmock.NewRows([]string{"reference"}))
	mock.ExpectQuery(`SELECT EXISTS`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := ledger.Confirm(context.Background(), "amaka", "9999")
	assert.True(t, errors.Is(err, ErrPaymentNotFound), "got %v", err)
}

func TestLedgerStatus(t *testing.T) {
	t.Parallel()

	ledger, mock := newMockLedger(t)
	confirmedAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT .* FROM "grace_payments" AS "gp"`).
		WillReturnRows(sqlmock.NewRows([]string{"reference", "tenant_id", "amount", "status", "confirmed_at"}).
			AddRow("GRC-AB12CD34", "amaka", int64(125000), "confirmed", confirmedAt))
	mock.ExpectQuery(`SELECT .* FROM "grace_payments" AS "gp"`).
		WillReturnRows(sqlmock.NewRows([]string{"reference"}))

	info, err := ledger.Status(context.Background(), testTenant, "GRC-AB12CD34")
	require.NoError(t, err)
	assert.Equal(t, contractx.PaymentStateConfirmed, info.State)
	assert.Equal(t, int64(125000), info.Amount)
	assert.True(t, info.ConfirmedAt.Equal(confirmedAt))

	info, err = ledger.Status(context.Background(), testTenant, "GRC-MISSING")
	require.NoError(t, err)
	assert.Equal(t, contractx.PaymentStateNotFound, info.State)
}

func TestVerificationCode(t *testing.T) {
	t.Parallel()

	for i := 0; i < 50; i++ {
		code, err := verificationCode()
		require.NoError(t, err)
		assert.Regexp(t, `^\d{4}$`, code)
	}
}
