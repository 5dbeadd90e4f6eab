package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/straye-as/merchant-ledger/internal/config"
)

// CreditPolicy decides what an approval does when the invoice would take a
// customer past their credit limit
type CreditPolicy string

const (
	// CreditPolicyWarn approves the order, flags it and returns a warning
	CreditPolicyWarn CreditPolicy = "warn"
	// CreditPolicyBlock fails the approval with ErrCreditLimitExceeded
	CreditPolicyBlock CreditPolicy = "block"
)

const (
	defaultApproveTimeout = 10 * time.Second
	defaultPhoneRegion    = "IN"
	defaultInvoicePrefix  = "INV"
	invoiceSequenceName   = "invoice"
)

// LedgerOptions are the parsed business rules shared by the ledger services
type LedgerOptions struct {
	CreditPolicy       CreditPolicy
	DefaultCreditLimit decimal.Decimal
	ApproveTimeout     time.Duration
	PhoneRegion        string
	InvoicePrefix      string
	DefaultGSTRate     decimal.Decimal
	LowStockThreshold  decimal.Decimal
	OverdueAfter       time.Duration
	OwnerPhone         string
}

// DefaultLedgerOptions returns the options used when nothing is configured
func DefaultLedgerOptions() LedgerOptions {
	return LedgerOptions{
		CreditPolicy:       CreditPolicyWarn,
		DefaultCreditLimit: decimal.Zero,
		ApproveTimeout:     defaultApproveTimeout,
		PhoneRegion:        defaultPhoneRegion,
		InvoicePrefix:      defaultInvoicePrefix,
		DefaultGSTRate:     decimal.Zero,
		LowStockThreshold:  decimal.NewFromInt(50),
		OverdueAfter:       7 * 24 * time.Hour,
	}
}

// NewLedgerOptions parses the ledger, inventory and notification sections of cfg
func NewLedgerOptions(cfg *config.Config) (LedgerOptions, error) {
	opts := DefaultLedgerOptions()

	switch CreditPolicy(strings.ToLower(cfg.Ledger.CreditPolicy)) {
	case "", CreditPolicyWarn:
		opts.CreditPolicy = CreditPolicyWarn
	case CreditPolicyBlock:
		opts.CreditPolicy = CreditPolicyBlock
	default:
		return opts, fmt.Errorf("unknown credit policy %q", cfg.Ledger.CreditPolicy)
	}

	var err error
	if opts.DefaultCreditLimit, err = parseDecimalSetting("ledger.defaultCreditLimit", cfg.Ledger.DefaultCreditLimit, opts.DefaultCreditLimit); err != nil {
		return opts, err
	}
	if opts.DefaultGSTRate, err = parseDecimalSetting("ledger.defaultGSTRate", cfg.Ledger.DefaultGSTRate, opts.DefaultGSTRate); err != nil {
		return opts, err
	}
	if opts.LowStockThreshold, err = parseDecimalSetting("inventory.lowStockThresholdMeters", cfg.Inventory.LowStockThresholdMeters, opts.LowStockThreshold); err != nil {
		return opts, err
	}

	if d := cfg.Ledger.ApproveTimeoutDuration(); d > 0 {
		opts.ApproveTimeout = d
	}
	if cfg.Ledger.PhoneRegion != "" {
		opts.PhoneRegion = strings.ToUpper(cfg.Ledger.PhoneRegion)
	}
	if cfg.Ledger.InvoicePrefix != "" {
		opts.InvoicePrefix = cfg.Ledger.InvoicePrefix
	}
	if d := cfg.Notifications.OverdueAfter(); d > 0 {
		opts.OverdueAfter = d
	}
	opts.OwnerPhone = cfg.Notifications.OwnerPhone
	return opts, nil
}

func parseDecimalSetting(name, raw string, fallback decimal.Decimal) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return fallback, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	if d.IsNegative() {
		return fallback, fmt.Errorf("invalid %s %q: must not be negative", name, raw)
	}
	return d, nil
}
