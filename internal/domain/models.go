package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate assigns a UUID when the caller did not set one
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// Key lower-cases and trims a material or color name for case-insensitive matching
func Key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// DefaultColor is used when an order line or batch has no color
const DefaultColor = "Unknown"

// Material is a catalog entry. Materials are never deleted.
type Material struct {
	BaseModel
	MaterialName  string          `gorm:"type:varchar(200);not null;column:material_name"`
	NameKey       string          `gorm:"type:varchar(200);not null;uniqueIndex;column:name_key"`
	PricePerMeter decimal.Decimal `gorm:"type:numeric(14,2);not null;column:price_per_meter"`
	Category      string          `gorm:"type:varchar(100);column:category"`
}

func (m *Material) BeforeSave(tx *gorm.DB) error {
	m.NameKey = Key(m.MaterialName)
	m.Category = Key(m.Category)
	return nil
}

// MaterialPriceChange records a superseded catalog price
type MaterialPriceChange struct {
	BaseModel
	MaterialID   uuid.UUID       `gorm:"type:uuid;not null;index;column:material_id"`
	MaterialName string          `gorm:"type:varchar(200);not null;column:material_name"`
	OldPrice     decimal.Decimal `gorm:"type:numeric(14,2);not null;column:old_price"`
	NewPrice     decimal.Decimal `gorm:"type:numeric(14,2);not null;column:new_price"`
	ChangedBy    string          `gorm:"type:varchar(200);column:changed_by"`
	ChangedAt    time.Time       `gorm:"not null;column:changed_at"`
}

// DefaultTaxCategory is the tax rate row used when a material category has no rate
const DefaultTaxCategory = "default"

// TaxRate holds the GST rate charged for a material category
type TaxRate struct {
	BaseModel
	Category string          `gorm:"type:varchar(100);not null;uniqueIndex;column:category"`
	Rate     decimal.Decimal `gorm:"type:numeric(6,4);not null;column:rate"`
}

func (t *TaxRate) BeforeSave(tx *gorm.DB) error {
	t.Category = Key(t.Category)
	return nil
}

// InventoryBatch is a received lot of fabric for one material and color.
// Counters never go negative.
type InventoryBatch struct {
	BaseModel
	MaterialName         string          `gorm:"type:varchar(200);not null;column:material_name"`
	MaterialKey          string          `gorm:"type:varchar(200);not null;index:idx_batch_stock_key,priority:1;column:material_key"`
	Color                string          `gorm:"type:varchar(100);not null;column:color"`
	ColorKey             string          `gorm:"type:varchar(100);not null;index:idx_batch_stock_key,priority:2;column:color_key"`
	DyeLot               string          `gorm:"type:varchar(100);column:dye_lot"`
	RollsAvailable       int             `gorm:"not null;default:0;column:rolls_available"`
	MetersPerRoll        decimal.Decimal `gorm:"type:numeric(12,3);not null;column:meters_per_roll"`
	LooseMetersAvailable decimal.Decimal `gorm:"type:numeric(12,3);not null;column:loose_meters_available"`
}

func (b *InventoryBatch) BeforeSave(tx *gorm.DB) error {
	if strings.TrimSpace(b.Color) == "" {
		b.Color = DefaultColor
	}
	b.MaterialKey = Key(b.MaterialName)
	b.ColorKey = Key(b.Color)
	return nil
}

// AvailableMeters is rolls*meters_per_roll + loose meters
func (b *InventoryBatch) AvailableMeters() decimal.Decimal {
	return b.MetersPerRoll.Mul(decimal.NewFromInt(int64(b.RollsAvailable))).Add(b.LooseMetersAvailable)
}

// CustomerStatus is a soft status; customers are never deleted
type CustomerStatus string

const (
	CustomerStatusActive   CustomerStatus = "active"
	CustomerStatusInactive CustomerStatus = "inactive"
)

// Customer is a buyer identified by an E.164 phone number
type Customer struct {
	PhoneNumber        string          `gorm:"type:varchar(20);primaryKey;column:phone_number"`
	BusinessName       string          `gorm:"type:varchar(200);column:business_name"`
	ContactName        string          `gorm:"type:varchar(200);column:contact_name"`
	CreditLimit        decimal.Decimal `gorm:"type:numeric(14,2);not null;column:credit_limit"`
	OutstandingBalance decimal.Decimal `gorm:"type:numeric(14,2);not null;column:outstanding_balance"`
	LifetimeValue      decimal.Decimal `gorm:"type:numeric(14,2);not null;column:lifetime_value"`
	Status             CustomerStatus  `gorm:"type:varchar(20);not null;default:'active'"`
	LastPaymentAt      *time.Time      `gorm:"column:last_payment_at"`
	LastReminderAt     *time.Time      `gorm:"column:last_reminder_at"`
	CreatedAt          time.Time       `gorm:"not null"`
	UpdatedAt          time.Time       `gorm:"not null"`
}

// AvailableCredit is credit_limit - outstanding_balance
func (c *Customer) AvailableCredit() decimal.Decimal {
	return c.CreditLimit.Sub(c.OutstandingBalance)
}

// ExceedsCredit reports whether adding amount would take the balance above the limit
func (c *Customer) ExceedsCredit(amount decimal.Decimal) bool {
	return c.OutstandingBalance.Add(amount).GreaterThan(c.CreditLimit)
}

// OrderStatus is the order lifecycle state
type OrderStatus string

const (
	OrderStatusProposed OrderStatus = "proposed"
	OrderStatusWaiting  OrderStatus = "waiting_owner_confirmation"
	OrderStatusApproved OrderStatus = "approved"
	OrderStatusRejected OrderStatus = "rejected"
)

// IsTerminal returns true for states with no outgoing transitions
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusApproved || s == OrderStatusRejected
}

// OrderSource records how an order was captured. It never changes behavior.
type OrderSource string

const (
	OrderSourceManual OrderSource = "manual"
	OrderSourceVoice  OrderSource = "voice"
	OrderSourcePhoto  OrderSource = "photo"
	OrderSourceChat   OrderSource = "chat"
)

// LineStatus is the fulfillment state of one order line
type LineStatus string

const (
	LineStatusPending   LineStatus = "pending"
	LineStatusFulfilled LineStatus = "fulfilled"
	LineStatusCancelled LineStatus = "cancelled"
)

// Order is a proposed sale awaiting or past owner confirmation
type Order struct {
	BaseModel
	CustomerPhone       string          `gorm:"type:varchar(20);not null;index;column:customer_phone"`
	Items               []OrderItem     `gorm:"foreignKey:OrderID"`
	TotalEstimate       decimal.Decimal `gorm:"type:numeric(14,2);not null;column:total_estimate"`
	Status              OrderStatus     `gorm:"type:varchar(40);not null;index"`
	CreditLimitExceeded bool            `gorm:"not null;default:false;column:credit_limit_exceeded"`
	Source              OrderSource     `gorm:"type:varchar(20);not null;default:'manual'"`
	Notes               string          `gorm:"type:text"`
	CreatedBy           string          `gorm:"type:varchar(200);column:created_by"`
	ApprovedBy          string          `gorm:"type:varchar(200);column:approved_by"`
	ApprovedAt          *time.Time      `gorm:"column:approved_at"`
	RejectedBy          string          `gorm:"type:varchar(200);column:rejected_by"`
	RejectedAt          *time.Time      `gorm:"column:rejected_at"`
	RejectReason        string          `gorm:"type:varchar(500);column:reject_reason"`
	InvoiceID           *uuid.UUID      `gorm:"type:uuid;column:invoice_id"`
}

// OrderItem is one line of an order. Price is frozen when the order is proposed.
type OrderItem struct {
	BaseModel
	OrderID        uuid.UUID       `gorm:"type:uuid;not null;index;column:order_id"`
	Position       int             `gorm:"not null;default:0"`
	MaterialName   string          `gorm:"type:varchar(200);not null;column:material_name"`
	Color          string          `gorm:"type:varchar(100);not null"`
	Category       string          `gorm:"type:varchar(100)"`
	QuantityMeters decimal.Decimal `gorm:"type:numeric(12,3);not null;column:quantity_meters"`
	PricePerMeter  decimal.Decimal `gorm:"type:numeric(14,2);not null;column:price_per_meter"`
	LineTotal      decimal.Decimal `gorm:"type:numeric(14,2);not null;column:line_total"`
	LineStatus     LineStatus      `gorm:"type:varchar(20);not null;default:'pending';column:line_status"`
}

// OrderStatusHistory records one order state transition
type OrderStatusHistory struct {
	BaseModel
	OrderID    uuid.UUID   `gorm:"type:uuid;not null;index;column:order_id"`
	FromStatus OrderStatus `gorm:"type:varchar(40);column:from_status"`
	ToStatus   OrderStatus `gorm:"type:varchar(40);not null;column:to_status"`
	ChangedBy  string      `gorm:"type:varchar(200);column:changed_by"`
	Note       string      `gorm:"type:varchar(500)"`
	ChangedAt  time.Time   `gorm:"not null;column:changed_at"`
}

func (OrderStatusHistory) TableName() string {
	return "order_status_history"
}

// Invoice is the billing document of an approved order.
// Amounts are frozen at issue; only the PDF fields change later.
type Invoice struct {
	BaseModel
	OrderID       uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex;column:order_id"`
	InvoiceNumber string          `gorm:"type:varchar(50);not null;uniqueIndex;column:invoice_number"`
	CustomerPhone string          `gorm:"type:varchar(20);not null;index;column:customer_phone"`
	Subtotal      decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	GSTAmount     decimal.Decimal `gorm:"type:numeric(14,2);not null;column:gst_amount"`
	Amount        decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	PDFGenerated  bool            `gorm:"not null;default:false;column:pdf_generated"`
	PDFPath       string          `gorm:"type:varchar(500);column:pdf_path"`
}

// PaymentMode is how a payment was received
type PaymentMode string

const (
	PaymentModeUPI          PaymentMode = "upi"
	PaymentModeCash         PaymentMode = "cash"
	PaymentModeBankTransfer PaymentMode = "bank_transfer"
	PaymentModeCheque       PaymentMode = "cheque"
)

// IsValid reports whether m is a known payment mode
func (m PaymentMode) IsValid() bool {
	switch m {
	case PaymentModeUPI, PaymentModeCash, PaymentModeBankTransfer, PaymentModeCheque:
		return true
	}
	return false
}

// Payment is an append-only receipt against a customer balance
type Payment struct {
	BaseModel
	CustomerPhone  string          `gorm:"type:varchar(20);not null;index;column:customer_phone"`
	Amount         decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Mode           PaymentMode     `gorm:"type:varchar(20);not null"`
	Reference      string          `gorm:"type:varchar(200)"`
	IdempotencyKey *string         `gorm:"type:varchar(100);uniqueIndex;column:idempotency_key"`
	RecordedBy     string          `gorm:"type:varchar(200);column:recorded_by"`
}

// LedgerEntryType distinguishes debits from credits on a customer statement
type LedgerEntryType string

const (
	LedgerEntryInvoice LedgerEntryType = "invoice"
	LedgerEntryPayment LedgerEntryType = "payment"
)

// LedgerEntry is one line of a customer statement
type LedgerEntry struct {
	BaseModel
	CustomerPhone string          `gorm:"type:varchar(20);not null;index;column:customer_phone"`
	EntryType     LedgerEntryType `gorm:"type:varchar(20);not null;column:entry_type"`
	Amount        decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	BalanceAfter  decimal.Decimal `gorm:"type:numeric(14,2);not null;column:balance_after"`
	OrderID       *uuid.UUID      `gorm:"type:uuid;column:order_id"`
	InvoiceID     *uuid.UUID      `gorm:"type:uuid;column:invoice_id"`
	PaymentID     *uuid.UUID      `gorm:"type:uuid;column:payment_id"`
	Description   string          `gorm:"type:varchar(500)"`
}

// ActivityKind categorizes feed entries
type ActivityKind string

const (
	ActivityOrderProposed   ActivityKind = "order_proposed"
	ActivityOrderApproved   ActivityKind = "order_approved"
	ActivityOrderRejected   ActivityKind = "order_rejected"
	ActivityPaymentReceived ActivityKind = "payment_received"
	ActivityStockAdded      ActivityKind = "stock_added"
	ActivityPriceChanged    ActivityKind = "price_changed"
	ActivityCustomerAdded   ActivityKind = "customer_added"
)

// Activity is a merchant-facing feed entry
type Activity struct {
	BaseModel
	Kind          ActivityKind    `gorm:"type:varchar(40);not null;index"`
	Title         string          `gorm:"type:varchar(200);not null"`
	Body          string          `gorm:"type:varchar(2000)"`
	ReferenceID   *uuid.UUID      `gorm:"type:uuid;column:reference_id"`
	CustomerPhone string          `gorm:"type:varchar(20);index;column:customer_phone"`
	Amount        decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	ActorName     string          `gorm:"type:varchar(200);column:actor_name"`
	OccurredAt    time.Time       `gorm:"not null;index;column:occurred_at"`
}

// NumberSequence tracks the last issued number of a named yearly sequence
type NumberSequence struct {
	Name         string    `gorm:"type:varchar(50);primaryKey"`
	Year         int       `gorm:"primaryKey"`
	LastSequence int       `gorm:"not null;default:0;column:last_sequence"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// OutboxStatus is the delivery state of a side-effect message
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusDone    OutboxStatus = "done"
	OutboxStatusFailed  OutboxStatus = "failed"
)

// Outbox message kinds
const (
	OutboxInvoiceRenderPDF   = "invoice.render_pdf"
	OutboxInvoiceWhatsApp    = "invoice.whatsapp"
	OutboxPaymentReceipt     = "payment.whatsapp_receipt"
	OutboxLowStockAlert      = "inventory.low_stock_alert"
	OutboxPaymentReminder    = "customer.payment_reminder"
	OutboxOrderApprovalAlert = "order.approval_request"
)

// OutboxMessage is a side effect written in the same transaction as the state change
// that caused it and delivered after commit.
type OutboxMessage struct {
	BaseModel
	Kind        string       `gorm:"type:varchar(60);not null;index"`
	AggregateID string       `gorm:"type:varchar(100);not null;column:aggregate_id"`
	Payload     string       `gorm:"type:text;not null"`
	Status      OutboxStatus `gorm:"type:varchar(20);not null;default:'pending';index"`
	Attempts    int          `gorm:"not null;default:0"`
	LockedAt    *time.Time   `gorm:"column:locked_at"`
	LockedBy    string       `gorm:"type:varchar(100);column:locked_by"`
	LastError   string       `gorm:"type:text;column:last_error"`
	ProcessedAt *time.Time   `gorm:"column:processed_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_messages"
}
