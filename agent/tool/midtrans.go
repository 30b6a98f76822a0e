package tool

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
	tenantx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/tenant"
)

type MidtransConfig struct {
	ServerKey    string `split_words:"true"`
	IsProduction bool   `split_words:"true" default:"false"`
}

func (c MidtransConfig) Enabled() bool {
	return strings.TrimSpace(c.ServerKey) != ""
}

type transactionChecker interface {
	CheckTransaction(param string) (*coreapi.TransactionStatusResponse, *midtrans.Error)
}

// MidtransPayments looks up the order reference as a Midtrans order id.
type MidtransPayments struct {
	client transactionChecker
}

var _ PaymentProvider = (*MidtransPayments)(nil)

func NewMidtransPayments(cfg MidtransConfig) *MidtransPayments {
	env := midtrans.Sandbox
	if cfg.IsProduction {
		env = midtrans.Production
	}
	var c coreapi.Client
	c.New(cfg.ServerKey, env)
	return &MidtransPayments{client: &c}
}

func (m *MidtransPayments) Status(ctx context.Context, _ tenantx.Tenant, reference string) (contractx.PaymentInfo, error) {
	if err := ctx.Err(); err != nil {
		return contractx.PaymentInfo{}, err
	}

	resp, midErr := m.client.CheckTransaction(reference)
	if midErr != nil {
		if midErr.StatusCode == 404 {
			return contractx.PaymentInfo{State: contractx.PaymentStateNotFound}, nil
		}
		return contractx.PaymentInfo{}, fmt.Errorf("midtrans error: %v", midErr.GetMessage())
	}
	if resp == nil || resp.StatusCode == "404" {
		return contractx.PaymentInfo{State: contractx.PaymentStateNotFound}, nil
	}

	info := contractx.PaymentInfo{State: contractx.PaymentStatePending}
	if amount, err := strconv.ParseFloat(resp.GrossAmount, 64); err == nil {
		info.Amount = int64(amount)
	}

	switch resp.TransactionStatus {
	case "settlement":
		info.State = contractx.PaymentStateConfirmed
	case "capture":
		if resp.FraudStatus == "" || resp.FraudStatus == "accept" {
			info.State = contractx.PaymentStateConfirmed
		}
	case "deny", "cancel", "expire", "failure":
		info.State = contractx.PaymentStateNotFound
	}
	if info.State == contractx.PaymentStateConfirmed {
		if at, err := time.Parse("2006-01-02 15:04:05", resp.SettlementTime); err == nil {
			info.ConfirmedAt = at
		}
	}
	return info, nil
}

// Payments asks each provider in order and keeps the most advanced answer.
// It fails only when every provider fails.
type Payments []PaymentProvider

var _ PaymentProvider = Payments(nil)

func (ps Payments) Status(ctx context.Context, t tenantx.Tenant, reference string) (contractx.PaymentInfo, error) {
	best := contractx.PaymentInfo{State: contractx.PaymentStateNotFound}
	var firstErr error
	answered := false
	for _, p := range ps {
		if p == nil {
			continue
		}
		info, err := p.Status(ctx, t, reference)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		answered = true
		if info.State == contractx.PaymentStateConfirmed {
			return info, nil
		}
		if info.State == contractx.PaymentStatePending {
			best = info
		}
	}
	if !answered && firstErr != nil {
		return contractx.PaymentInfo{}, firstErr
	}
	return best, nil
}
