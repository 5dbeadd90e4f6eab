// Package pdf renders invoice documents to PDF with headless Chrome.
package pdf

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

var invoiceTemplate = template.Must(template.ParseFS(templateFS, "templates/invoice.html"))

// ErrDisabled is returned by a renderer built with rendering turned off
var ErrDisabled = errors.New("pdf rendering is disabled")

// A4 in inches
const (
	a4Width  = 8.27
	a4Height = 11.69
)

// Business is the merchant identity printed in the invoice header
type Business struct {
	Name    string
	Address string
	Phone   string
	GSTIN   string
}

// Line is one invoice row
type Line struct {
	Position     int
	MaterialName string
	Color        string
	Quantity     decimal.Decimal
	Rate         decimal.Decimal
	Amount       decimal.Decimal
}

// InvoiceDocument is everything printed on an invoice
type InvoiceDocument struct {
	Business      Business
	InvoiceNumber string
	IssuedAt      time.Time
	CustomerName  string
	CustomerPhone string
	Lines         []Line
	Subtotal      decimal.Decimal
	GST           decimal.Decimal
	Total         decimal.Decimal
}

type lineView struct {
	Position     int
	MaterialName string
	Color        string
	Quantity     string
	Rate         string
	Amount       string
}

type documentView struct {
	Business      Business
	InvoiceNumber string
	IssuedOn      string
	CustomerName  string
	CustomerPhone string
	Lines         []lineView
	Subtotal      string
	GST           string
	Total         string
	AmountInWords string
}

// RenderHTML executes the invoice template
func RenderHTML(doc InvoiceDocument) ([]byte, error) {
	view := documentView{
		Business:      doc.Business,
		InvoiceNumber: doc.InvoiceNumber,
		IssuedOn:      doc.IssuedAt.Format("02-Jan-2006"),
		CustomerName:  doc.CustomerName,
		CustomerPhone: doc.CustomerPhone,
		Lines:         make([]lineView, len(doc.Lines)),
		Subtotal:      FormatINR(doc.Subtotal),
		GST:           FormatINR(doc.GST),
		Total:         FormatINR(doc.Total),
		AmountInWords: AmountInWords(doc.Total),
	}
	for i, l := range doc.Lines {
		view.Lines[i] = lineView{
			Position:     l.Position,
			MaterialName: l.MaterialName,
			Color:        l.Color,
			Quantity:     l.Quantity.String(),
			Rate:         FormatINR(l.Rate),
			Amount:       FormatINR(l.Amount),
		}
	}

	var buf bytes.Buffer
	if err := invoiceTemplate.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("execute invoice template: %w", err)
	}
	return buf.Bytes(), nil
}

// Renderer prints invoice documents through a shared headless Chrome process.
// The browser starts on first use.
type Renderer struct {
	enabled bool
	timeout time.Duration
	logger  *zap.Logger

	once        sync.Once
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

// NewRenderer creates a renderer. With enabled false every call returns ErrDisabled.
func NewRenderer(enabled bool, timeout time.Duration, logger *zap.Logger) *Renderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Renderer{enabled: enabled, timeout: timeout, logger: logger}
}

func (r *Renderer) allocator() context.Context {
	r.once.Do(func() {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.NoSandbox,
			chromedp.DisableGPU,
		)
		r.allocCtx, r.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
		r.logger.Info("headless chrome allocator created")
	})
	return r.allocCtx
}

// Render produces the PDF bytes of doc
func (r *Renderer) Render(ctx context.Context, doc InvoiceDocument) ([]byte, error) {
	if !r.enabled {
		return nil, ErrDisabled
	}

	html, err := RenderHTML(doc)
	if err != nil {
		return nil, err
	}

	taskCtx, cancelTask := chromedp.NewContext(r.allocator())
	defer cancelTask()
	taskCtx, cancelTimeout := context.WithTimeout(taskCtx, r.timeout)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancelTimeout)
	defer stop()

	var pdfBuf []byte
	err = chromedp.Run(taskCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frameTree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frameTree.Frame.ID, string(html)).Do(ctx)
		}),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdfBuf, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(a4Width).
				WithPaperHeight(a4Height).
				WithPreferCSSPageSize(true).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("print invoice %s: %w", doc.InvoiceNumber, err)
	}
	return pdfBuf, nil
}

// Close shuts the browser down
func (r *Renderer) Close() {
	if r.allocCancel != nil {
		r.allocCancel()
	}
}
