package service_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"github.com/straye-as/merchant-ledger/internal/repository"
	"github.com/straye-as/merchant-ledger/internal/service"
	"github.com/straye-as/merchant-ledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (l *ledger) approvedInvoice(t *testing.T) domain.InvoiceDTO {
	t.Helper()
	l.seedCotton(t)
	order := l.propose(t, testPhone, line("Cotton", "Red", "30"))
	result, err := l.orders.Approve(testutil.OwnerContext(), order.ID)
	require.NoError(t, err)
	return result.Invoice
}

// drain runs the dispatcher until a batch delivers nothing
func (l *ledger) drain(t *testing.T) int {
	t.Helper()
	total := 0
	for i := 0; i < 10; i++ {
		n, err := l.dispatcher.DispatchOnce(context.Background())
		require.NoError(t, err)
		if n == 0 {
			return total
		}
		total += n
	}
	return total
}

func TestInvoiceService_RenderAndDownload(t *testing.T) {
	l := newLedger(t)
	invoice := l.approvedInvoice(t)
	ctx := context.Background()

	rc, dto, ready, err := l.invoices.Download(ctx, invoice.ID)
	require.NoError(t, err)
	assert.False(t, ready)
	assert.Nil(t, rc)
	assert.Equal(t, invoice.InvoiceNumber, dto.InvoiceNumber)

	// approval alert, render, then the WhatsApp delivery the render queues
	assert.Equal(t, 3, l.drain(t))

	rc, dto, ready, err = l.invoices.Download(ctx, invoice.ID)
	require.NoError(t, err)
	require.True(t, ready)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "%PDF-1.4 "+invoice.InvoiceNumber, string(data))
	assert.True(t, dto.PDFGenerated)

	require.Len(t, l.renderer.docs, 1)
	doc := l.renderer.docs[0]
	assert.Equal(t, "Gupta Traders", doc.CustomerName)
	require.Len(t, doc.Lines, 1)
	assert.True(t, testutil.D("4500").Equal(doc.Total))

	sent := l.notifier.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, ownerTestPhone, sent[0].To)
	assert.Contains(t, sent[0].Body, "New Order Alert")
	assert.Equal(t, testPhone, sent[1].To)
	assert.Contains(t, sent[1].Body, invoice.InvoiceNumber)
	assert.Contains(t, sent[1].Body, "₹4,500.00")
}

func TestInvoiceService_DownloadMissingFileRequeues(t *testing.T) {
	l := newLedger(t)
	invoice := l.approvedInvoice(t)
	ctx := context.Background()
	assert.Equal(t, 3, l.drain(t))

	stored, err := l.invoices.Get(ctx, invoice.ID)
	require.NoError(t, err)
	require.True(t, stored.PDFGenerated)

	var row domain.Invoice
	require.NoError(t, l.db.First(&row, "id = ?", invoice.ID).Error)
	require.NoError(t, l.store.Delete(ctx, row.PDFPath))

	for i := 0; i < 2; i++ {
		rc, _, ready, err := l.invoices.Download(ctx, invoice.ID)
		require.NoError(t, err)
		assert.False(t, ready)
		assert.Nil(t, rc)
	}

	msgs, err := l.outboxRepo.ListByAggregate(ctx, invoice.ID.String())
	require.NoError(t, err)
	kinds := make([]string, len(msgs))
	for i, m := range msgs {
		kinds[i] = m.Kind
	}
	assert.Equal(t, []string{
		domain.OutboxInvoiceRenderPDF,
		domain.OutboxInvoiceWhatsApp,
		domain.OutboxInvoiceRenderPDF,
	}, kinds)

	// the replacement file is stored without messaging the customer again
	assert.Equal(t, 1, l.drain(t))
	assert.Len(t, l.notifier.sent(), 2)
	rc, _, ready, err := l.invoices.Download(ctx, invoice.ID)
	require.NoError(t, err)
	require.True(t, ready)
	require.NoError(t, rc.Close())
}

func TestInvoiceService_Resend(t *testing.T) {
	l := newLedger(t)
	invoice := l.approvedInvoice(t)
	ctx := context.Background()

	// the render queued at approval is still pending and delivers on completion
	require.NoError(t, l.invoices.Resend(ctx, invoice.ID))
	require.NoError(t, l.invoices.Resend(ctx, invoice.ID))
	msgs, err := l.outboxRepo.ListByAggregate(ctx, invoice.ID.String())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.OutboxInvoiceRenderPDF, msgs[0].Kind)

	assert.Equal(t, 3, l.drain(t))
	invoiceMessages := func() int {
		n := 0
		for _, m := range l.notifier.sent() {
			if m.To == testPhone {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 1, invoiceMessages())

	require.NoError(t, l.invoices.Resend(ctx, invoice.ID))
	msgs, err = l.outboxRepo.ListByAggregate(ctx, invoice.ID.String())
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.OutboxInvoiceWhatsApp, msgs[2].Kind)
	assert.Equal(t, 1, l.drain(t))
	assert.Equal(t, 2, invoiceMessages())

	assert.ErrorIs(t, l.invoices.Resend(ctx, uuid.New()), service.ErrInvoiceNotFound)
}

func TestInvoiceService_Lookup(t *testing.T) {
	l := newLedger(t)
	invoice := l.approvedInvoice(t)
	ctx := context.Background()

	byOrder, err := l.invoices.GetByOrder(ctx, invoice.OrderID)
	require.NoError(t, err)
	assert.Equal(t, invoice.ID, byOrder.ID)

	_, err = l.invoices.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, service.ErrInvoiceNotFound)
	_, err = l.invoices.GetByOrder(ctx, uuid.New())
	assert.ErrorIs(t, err, service.ErrInvoiceNotFound)

	page, err := l.invoices.List(ctx, 1, 10, repository.InvoiceFilter{CustomerPhone: "9876543210"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)

	page, err = l.invoices.List(ctx, 1, 10, repository.InvoiceFilter{CustomerPhone: otherTestPhone})
	require.NoError(t, err)
	assert.Equal(t, int64(0), page.Total)
}

func TestOutboxDispatcher_Retries(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	l.notifier.err = errBoom

	msg, err := l.outboxRepo.Enqueue(ctx, nil, domain.OutboxPaymentReminder, testPhone, service.PaymentReminder{
		PhoneNumber:        testPhone,
		OutstandingBalance: testutil.D("800"),
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		n, err := l.dispatcher.DispatchOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	}

	var got domain.OutboxMessage
	require.NoError(t, l.db.First(&got, "id = ?", msg.ID).Error)
	assert.Equal(t, domain.OutboxStatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Contains(t, got.LastError, "boom")

	// parked messages are not claimed again
	l.notifier.err = nil
	n, err := l.dispatcher.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, l.notifier.sent())
}

func TestOutboxDispatcher_RecoversAfterFailure(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	l.notifier.err = errBoom

	_, err := l.outboxRepo.Enqueue(ctx, nil, domain.OutboxPaymentReceipt, "p-1", service.PaymentReceipt{
		PaymentID:    "p-1",
		PhoneNumber:  testPhone,
		Amount:       testutil.D("100"),
		Mode:         "upi",
		BalanceAfter: testutil.D("-100"),
	})
	require.NoError(t, err)

	n, err := l.dispatcher.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	l.notifier.err = nil
	n, err = l.dispatcher.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sent := l.notifier.sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Body, "Advance with us: ₹100.00")
}

func TestOutboxDispatcher_UnknownKind(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	msg, err := l.outboxRepo.Enqueue(ctx, nil, "mystery.kind", "x", map[string]string{})
	require.NoError(t, err)

	n, err := l.dispatcher.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	var got domain.OutboxMessage
	require.NoError(t, l.db.First(&got, "id = ?", msg.ID).Error)
	assert.Equal(t, domain.OutboxStatusPending, got.Status)
	assert.Contains(t, got.LastError, service.ErrUnknownOutboxKind.Error())
}

func TestMessageBuilders(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want []string
	}{
		{
			name: "low stock",
			got: service.LowStockMessage(service.LowStockAlert{Items: []domain.StockAlternative{
				{MaterialName: "Cotton", Color: "Red", AvailableMeters: testutil.D("4.5")},
			}}),
			want: []string{"⚠️ *Low Stock Alert*", "• *Cotton* (Red): 4.5 m left", "Please restock soon."},
		},
		{
			name: "reminder without business name",
			got:  service.PaymentReminderMessage(service.PaymentReminder{OutstandingBalance: testutil.D("125000")}, ""),
			want: []string{"Namaste Customer", "Your outstanding balance is ₹1,25,000.00"},
		},
		{
			name: "reminder names the business",
			got:  service.PaymentReminderMessage(service.PaymentReminder{BusinessName: "Gupta Traders", OutstandingBalance: testutil.D("10")}, "Gupta Fabrics"),
			want: []string{"Namaste Gupta Traders", "balance with Gupta Fabrics is ₹10.00"},
		},
		{
			name: "invoice without business name",
			got:  service.InvoiceMessage(service.InvoiceNotice{InvoiceNumber: "INV-2026-0001", Amount: testutil.D("4500")}, ""),
			want: []string{"Here is your invoice INV-2026-0001.\n", "Amount: ₹4,500.00"},
		},
		{
			name: "receipt without business name",
			got:  service.PaymentReceiptMessage(service.PaymentReceipt{Amount: testutil.D("100"), Mode: "upi", BalanceAfter: testutil.D("-100")}, ""),
			want: []string{"Advance with us: ₹100.00", "Thank you"},
		},
		{
			name: "receipt with balance due",
			got:  service.PaymentReceiptMessage(service.PaymentReceipt{Amount: testutil.D("500"), Mode: "cash", BalanceAfter: testutil.D("250")}, "Gupta Fabrics"),
			want: []string{"Payment received: ₹500.00 (cash)", "Outstanding balance: ₹250.00", "Thank you, Gupta Fabrics"},
		},
		{
			name: "approval request over credit",
			got: service.ApprovalRequestMessage(service.OrderApprovalRequest{
				OrderID:             "o-1",
				CustomerPhone:       testPhone,
				CustomerName:        "Gupta Traders",
				TotalEstimate:       testutil.D("4500"),
				Lines:               []string{"30 m Cotton (Red)"},
				CreditLimitExceeded: true,
			}),
			want: []string{"Gupta Traders (" + testPhone + ")", "• 30 m Cotton (Red)", "Estimate: ₹4,500.00", "Credit limit exceeded"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, w := range tt.want {
				assert.True(t, strings.Contains(tt.got, w), "%q missing from %q", w, tt.got)
			}
		})
	}
}
