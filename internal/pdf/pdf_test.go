package pdf_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/straye-as/merchant-ledger/internal/pdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAmountInWords(t *testing.T) {
	tests := []struct {
		amount string
		want   string
	}{
		{"0", "Zero Rupees Only"},
		{"1", "One Rupees Only"},
		{"4500", "Four Thousand Five Hundred Rupees Only"},
		{"4500.50", "Four Thousand Five Hundred Rupees and Fifty Paise Only"},
		{"0.05", "Five Paise Only"},
		{"100000", "One Lakh Rupees Only"},
		{"1234567", "Twelve Lakh Thirty Four Thousand Five Hundred Sixty Seven Rupees Only"},
		{"25000000", "Two Crore Fifty Lakh Rupees Only"},
		{"999.999", "One Thousand Rupees Only"},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			assert.Equal(t, tt.want, pdf.AmountInWords(decimal.RequireFromString(tt.amount)))
		})
	}
}

func TestFormatINR(t *testing.T) {
	tests := []struct {
		amount string
		want   string
	}{
		{"0", "0.00"},
		{"999", "999.00"},
		{"4500", "4,500.00"},
		{"123456.7", "1,23,456.70"},
		{"12345678.9", "1,23,45,678.90"},
		{"-100", "-100.00"},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			assert.Equal(t, tt.want, pdf.FormatINR(decimal.RequireFromString(tt.amount)))
		})
	}
}

func TestRenderHTML(t *testing.T) {
	doc := pdf.InvoiceDocument{
		Business:      pdf.Business{Name: "Sharma Textiles", GSTIN: "27ABCDE1234F1Z5"},
		InvoiceNumber: "INV-2025-0001",
		IssuedAt:      time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC),
		CustomerName:  "Gupta & Sons",
		CustomerPhone: "+919876543210",
		Lines: []pdf.Line{
			{Position: 1, MaterialName: "Cotton", Color: "Red", Quantity: decimal.NewFromInt(30), Rate: decimal.NewFromInt(150), Amount: decimal.NewFromInt(4500)},
		},
		Subtotal: decimal.NewFromInt(4500),
		GST:      decimal.Zero,
		Total:    decimal.NewFromInt(4500),
	}

	html, err := pdf.RenderHTML(doc)
	require.NoError(t, err)

	out := string(html)
	assert.Contains(t, out, "INV-2025-0001")
	assert.Contains(t, out, "04-Mar-2025")
	assert.Contains(t, out, "Gupta &amp; Sons")
	assert.Contains(t, out, "4,500.00")
	assert.Contains(t, out, "Four Thousand Five Hundred Rupees Only")
	assert.Contains(t, out, "GSTIN: 27ABCDE1234F1Z5")
}

func TestRenderer_Disabled(t *testing.T) {
	r := pdf.NewRenderer(false, time.Second, zap.NewNop())
	defer r.Close()

	_, err := r.Render(context.Background(), pdf.InvoiceDocument{})
	assert.ErrorIs(t, err, pdf.ErrDisabled)
}
