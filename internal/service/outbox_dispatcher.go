package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/merchant-ledger/internal/config"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"github.com/straye-as/merchant-ledger/internal/notify"
	"github.com/straye-as/merchant-ledger/internal/pdf"
	"github.com/straye-as/merchant-ledger/internal/repository"
	"go.uber.org/zap"
)

// ErrUnknownOutboxKind is recorded on messages no handler is registered for
var ErrUnknownOutboxKind = errors.New("unknown outbox message kind")

// DispatcherOptions tune one dispatcher instance
type DispatcherOptions struct {
	WorkerID     string
	BatchSize    int
	LockTTL      time.Duration
	MaxAttempts  int
	Timeout      time.Duration
	BusinessName string
	OwnerPhone   string
}

// NewDispatcherOptions reads the outbox section of cfg. The worker id is the hostname plus a random suffix.
func NewDispatcherOptions(cfg *config.Config) DispatcherOptions {
	host, _ := os.Hostname()
	if host == "" {
		host = "worker"
	}
	opts := DispatcherOptions{
		WorkerID:     fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		BatchSize:    cfg.Outbox.BatchSize,
		LockTTL:      cfg.Outbox.LockTTLDuration(),
		MaxAttempts:  cfg.Outbox.MaxAttempts,
		Timeout:      cfg.Outbox.TimeoutDuration(),
		BusinessName: cfg.Business.Name,
		OwnerPhone:   cfg.Notifications.OwnerPhone,
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	return opts
}

type outboxHandler func(ctx context.Context, msg *domain.OutboxMessage) error

// OutboxDispatcher delivers committed side effects: invoice rendering and
// WhatsApp messages. Handler failures are recorded on the message and retried
// on later runs until MaxAttempts.
type OutboxDispatcher struct {
	outboxRepo *repository.OutboxRepository
	invoices   *InvoiceService
	notifier   notify.Notifier
	opts       DispatcherOptions
	handlers   map[string]outboxHandler
	logger     *zap.Logger
}

func NewOutboxDispatcher(
	outboxRepo *repository.OutboxRepository,
	invoices *InvoiceService,
	notifier notify.Notifier,
	opts DispatcherOptions,
	logger *zap.Logger,
) *OutboxDispatcher {
	d := &OutboxDispatcher{
		outboxRepo: outboxRepo,
		invoices:   invoices,
		notifier:   notifier,
		opts:       opts,
		logger:     logger.With(zap.String("worker_id", opts.WorkerID)),
	}
	d.handlers = map[string]outboxHandler{
		domain.OutboxInvoiceRenderPDF:   d.handleRenderPDF,
		domain.OutboxInvoiceWhatsApp:    d.handleInvoiceWhatsApp,
		domain.OutboxPaymentReceipt:     d.handlePaymentReceipt,
		domain.OutboxLowStockAlert:      d.handleLowStockAlert,
		domain.OutboxPaymentReminder:    d.handlePaymentReminder,
		domain.OutboxOrderApprovalAlert: d.handleApprovalRequest,
	}
	return d
}

// DispatchOnce claims one batch and runs it. It returns the number of
// messages delivered successfully.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	staleBefore := time.Now().UTC().Add(-d.opts.LockTTL)
	msgs, err := d.outboxRepo.Claim(ctx, d.opts.WorkerID, d.opts.BatchSize, staleBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to claim outbox messages: %w", err)
	}

	delivered := 0
	for i := range msgs {
		msg := &msgs[i]
		log := d.logger.With(
			zap.String("outbox_id", msg.ID.String()),
			zap.String("kind", msg.Kind),
			zap.String("aggregate_id", msg.AggregateID))

		handler, ok := d.handlers[msg.Kind]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrUnknownOutboxKind, msg.Kind)
		} else {
			err = handler(ctx, msg)
		}

		if err != nil {
			log.Warn("outbox message failed", zap.Int("attempt", msg.Attempts+1), zap.Error(err))
			if markErr := d.outboxRepo.MarkFailed(ctx, msg, err, d.opts.MaxAttempts); markErr != nil {
				log.Error("failed to record outbox failure", zap.Error(markErr))
			}
			continue
		}
		if err := d.outboxRepo.MarkDone(ctx, msg.ID); err != nil {
			log.Error("failed to mark outbox message done", zap.Error(err))
			continue
		}
		delivered++
	}

	if len(msgs) > 0 {
		d.logger.Info("outbox batch dispatched", zap.Int("claimed", len(msgs)), zap.Int("delivered", delivered))
	}
	return delivered, nil
}

func (d *OutboxDispatcher) handleRenderPDF(ctx context.Context, msg *domain.OutboxMessage) error {
	var req InvoiceRenderRequest
	if err := decodePayload(msg, &req); err != nil {
		return err
	}
	id, err := uuid.Parse(req.InvoiceID)
	if err != nil {
		return fmt.Errorf("invalid invoice id %q: %w", req.InvoiceID, err)
	}
	err = d.invoices.RenderPDF(ctx, id, !req.SkipDelivery)
	if errors.Is(err, pdf.ErrDisabled) {
		// Nothing to retry; the invoice stays downloadable as pending
		d.logger.Info("pdf rendering disabled, skipping", zap.String("invoice_id", req.InvoiceID))
		return nil
	}
	return err
}

func (d *OutboxDispatcher) handleInvoiceWhatsApp(ctx context.Context, msg *domain.OutboxMessage) error {
	var n InvoiceNotice
	if err := decodePayload(msg, &n); err != nil {
		return err
	}
	return d.notifier.Send(ctx, notify.Message{To: n.PhoneNumber, Body: InvoiceMessage(n, d.opts.BusinessName)})
}

func (d *OutboxDispatcher) handlePaymentReceipt(ctx context.Context, msg *domain.OutboxMessage) error {
	var r PaymentReceipt
	if err := decodePayload(msg, &r); err != nil {
		return err
	}
	return d.notifier.Send(ctx, notify.Message{To: r.PhoneNumber, Body: PaymentReceiptMessage(r, d.opts.BusinessName)})
}

func (d *OutboxDispatcher) handleLowStockAlert(ctx context.Context, msg *domain.OutboxMessage) error {
	if d.opts.OwnerPhone == "" {
		d.logger.Info("owner phone not set, skipping low stock alert")
		return nil
	}
	var a LowStockAlert
	if err := decodePayload(msg, &a); err != nil {
		return err
	}
	return d.notifier.Send(ctx, notify.Message{To: d.opts.OwnerPhone, Body: LowStockMessage(a)})
}

func (d *OutboxDispatcher) handlePaymentReminder(ctx context.Context, msg *domain.OutboxMessage) error {
	var r PaymentReminder
	if err := decodePayload(msg, &r); err != nil {
		return err
	}
	return d.notifier.Send(ctx, notify.Message{To: r.PhoneNumber, Body: PaymentReminderMessage(r, d.opts.BusinessName)})
}

func (d *OutboxDispatcher) handleApprovalRequest(ctx context.Context, msg *domain.OutboxMessage) error {
	var r OrderApprovalRequest
	if err := decodePayload(msg, &r); err != nil {
		return err
	}
	to := r.OwnerPhone
	if to == "" {
		to = d.opts.OwnerPhone
	}
	return d.notifier.Send(ctx, notify.Message{To: to, Body: ApprovalRequestMessage(r)})
}

func decodePayload(msg *domain.OutboxMessage, out interface{}) error {
	if err := json.Unmarshal([]byte(msg.Payload), out); err != nil {
		return fmt.Errorf("invalid %s payload: %w", msg.Kind, err)
	}
	return nil
}

// fromBusiness renders " <prep> <name>", or nothing when no business name is configured
func fromBusiness(prep, name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return ""
	}
	return " " + prep + " " + name
}

// InvoiceMessage is the customer text sent with a new invoice
func InvoiceMessage(n InvoiceNotice, businessName string) string {
	return fmt.Sprintf("Here is your invoice %s%s.\nAmount: ₹%s",
		n.InvoiceNumber, fromBusiness("from", businessName), pdf.FormatINR(n.Amount))
}

// PaymentReceiptMessage confirms a payment to the customer
func PaymentReceiptMessage(r PaymentReceipt, businessName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Payment received: ₹%s (%s)\n", pdf.FormatINR(r.Amount), r.Mode)
	if r.BalanceAfter.IsNegative() {
		fmt.Fprintf(&b, "Advance with us: ₹%s\n", pdf.FormatINR(r.BalanceAfter.Neg()))
	} else {
		fmt.Fprintf(&b, "Outstanding balance: ₹%s\n", pdf.FormatINR(r.BalanceAfter))
	}
	b.WriteString("Thank you")
	if name := strings.TrimSpace(businessName); name != "" {
		b.WriteString(", " + name)
	}
	return b.String()
}

// LowStockMessage lists low (material, color) groups for the owner
func LowStockMessage(a LowStockAlert) string {
	lines := []string{"⚠️ *Low Stock Alert*", ""}
	for _, item := range a.Items {
		lines = append(lines, fmt.Sprintf("• *%s* (%s): %s m left", item.MaterialName, item.Color, item.AvailableMeters.String()))
	}
	lines = append(lines, "", "Please restock soon.")
	return strings.Join(lines, "\n")
}

// PaymentReminderMessage asks a customer to settle an overdue balance
func PaymentReminderMessage(r PaymentReminder, businessName string) string {
	name := r.BusinessName
	if name == "" {
		name = "Customer"
	}
	return fmt.Sprintf("Namaste %s,\nYour outstanding balance%s is ₹%s.\nPlease clear it at your earliest convenience.",
		name, fromBusiness("with", businessName), pdf.FormatINR(r.OutstandingBalance))
}

// ApprovalRequestMessage tells the owner a new order is waiting
func ApprovalRequestMessage(r OrderApprovalRequest) string {
	var b strings.Builder
	b.WriteString("🚨 *New Order Alert*\n")
	customer := r.CustomerPhone
	if r.CustomerName != "" && r.CustomerName != r.CustomerPhone {
		customer = fmt.Sprintf("%s (%s)", r.CustomerName, r.CustomerPhone)
	}
	fmt.Fprintf(&b, "Customer: %s\n", customer)
	fmt.Fprintf(&b, "Order ID: `%s`\n", r.OrderID)
	for _, line := range r.Lines {
		fmt.Fprintf(&b, "• %s\n", line)
	}
	fmt.Fprintf(&b, "Estimate: ₹%s\n", pdf.FormatINR(r.TotalEstimate))
	if r.CreditLimitExceeded {
		b.WriteString("⚠️ Credit limit exceeded\n")
	}
	b.WriteString("\n👉 Approve or reject from the dashboard.")
	return b.String()
}
