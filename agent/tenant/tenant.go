package tenant

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	ErrUnknownTenant = errors.New("unknown tenant")
	ErrInvalidTenant = errors.New("invalid tenant configuration")
)

// Tenant is one merchant's configuration. Values are read-only once published in a Snapshot.
type Tenant struct {
	ID                string            `mapstructure:"id"`
	BrandName         string            `mapstructure:"brand_name"`
	Tone              string            `mapstructure:"tone"`
	CatalogRef        string            `mapstructure:"catalog_ref"`
	PolicyRef         string            `mapstructure:"policy_ref"`
	Channels          []string          `mapstructure:"channels"`
	AccountantContact string            `mapstructure:"accountant_contact"`
	Payment           PaymentDetails    `mapstructure:"payment"`
	Hours             BusinessHours     `mapstructure:"business_hours"`
	SocialLinks       map[string]string `mapstructure:"social_links"`
}

type PaymentDetails struct {
	BankName          string  `mapstructure:"bank_name"`
	AccountName       string  `mapstructure:"account_name"`
	AccountNumber     string  `mapstructure:"account_number"`
	Currency          string  `mapstructure:"currency"`
	PackageTotal      int64   `mapstructure:"package_total"`
	DepositPercentage float64 `mapstructure:"deposit_percentage"`
}

// BusinessHours is a daily [Start, End) window in HH:MM, evaluated in Timezone.
type BusinessHours struct {
	Start    string `mapstructure:"start"`
	End      string `mapstructure:"end"`
	Timezone string `mapstructure:"timezone"`
}

// DepositAmount is PackageTotal * DepositPercentage, rounded to the nearest unit.
func (t Tenant) DepositAmount() int64 {
	pct := t.Payment.DepositPercentage
	if pct <= 0 {
		pct = 0.5
	}
	return int64(math.Round(float64(t.Payment.PackageTotal) * pct))
}

func (t Tenant) Currency() string {
	if c := strings.TrimSpace(t.Payment.Currency); c != "" {
		return c
	}
	return "NGN"
}

func (t Tenant) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidTenant)
	}
	if strings.TrimSpace(t.BrandName) == "" {
		return fmt.Errorf("%w: tenant %s: brand_name is required", ErrInvalidTenant, t.ID)
	}
	if len(t.Channels) == 0 {
		return fmt.Errorf("%w: tenant %s: at least one channel is required", ErrInvalidTenant, t.ID)
	}
	if p := t.Payment.DepositPercentage; p < 0 || p > 1 {
		return fmt.Errorf("%w: tenant %s: deposit_percentage must be within [0,1]", ErrInvalidTenant, t.ID)
	}
	if t.Payment.PackageTotal < 0 {
		return fmt.Errorf("%w: tenant %s: package_total must be >= 0", ErrInvalidTenant, t.ID)
	}
	if _, err := t.Hours.location(); err != nil {
		return fmt.Errorf("%w: tenant %s: %v", ErrInvalidTenant, t.ID, err)
	}
	return nil
}

// Open reports whether now falls inside business hours. Unset hours mean always open.
func (h BusinessHours) Open(now time.Time) bool {
	start, okStart := parseClock(h.Start)
	end, okEnd := parseClock(h.End)
	if !okStart || !okEnd {
		return true
	}
	loc, err := h.location()
	if err != nil {
		return true
	}
	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()
	if start <= end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

func (h BusinessHours) location() (*time.Location, error) {
	tz := strings.TrimSpace(h.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(tz)
}

func parseClock(v string) (int, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

// NormalizeChannel canonicalizes a channel identity such as "whatsapp:+234 801 111 1111".
func NormalizeChannel(channel string) string {
	c := strings.TrimSpace(strings.ToLower(channel))
	for _, prefix := range []string{"whatsapp:", "web:", "tel:"} {
		c = strings.TrimPrefix(c, prefix)
	}
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
	return replacer.Replace(c)
}
