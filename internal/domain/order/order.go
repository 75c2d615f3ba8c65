package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/vitalblend/commerce-api/internal/domain/coupon"
)

// Status enumerates the order lifecycle states. The main flow is
// pending -> confirmed -> processing -> shipped -> delivered, with side
// branches to cancelled and (from delivered) to returned.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusReturned   Status = "returned"
)

// ValidStatus reports whether s is a known order status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusShipped,
		StatusDelivered, StatusCancelled, StatusReturned:
		return true
	}
	return false
}

// PaymentStatus enumerates payment states. The lifecycle machine reacts to
// payment status; it never computes it.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// RequestStatus is the state of a cancellation or return sub-record.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// Sentinel errors for lifecycle and checkout validation.
var (
	ErrNotFound             = errors.New("order not found")
	ErrConflict             = errors.New("order modified concurrently")
	ErrEmptyItems           = errors.New("items required")
	ErrCancellationRejected = errors.New("order can no longer be cancelled")
	ErrReturnRejected       = errors.New("only delivered orders can be returned")
	ErrRequestAlreadyFiled  = errors.New("request already filed")
	ErrNoPendingRequest     = errors.New("no pending request found")
	ErrInvalidStatus        = errors.New("invalid order status")
)

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// OutOfStockError indicates a requested size cannot cover the quantity.
type OutOfStockError struct {
	ProductID string
	SizeLabel string
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("product %s size %s is out of stock", e.ProductID, e.SizeLabel)
}

// LineItem is a snapshot of product/size/price/quantity captured at order
// creation time. It never references the live product record, so later
// product edits cannot rewrite historical pricing.
type LineItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	SizeLabel string          `json:"size"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image"`
	Category  string          `json:"category"`
}

// Address is the shipping destination snapshot stored on the order.
type Address struct {
	FullName   string `json:"fullName"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

// CancellationRequest is the embedded cancellation sub-record. At most one is
// ever filed per order, and it transitions pending -> approved/rejected
// exactly once.
type CancellationRequest struct {
	RequestedAt time.Time     `json:"requestedAt"`
	Reason      string        `json:"reason"`
	Description string        `json:"description"`
	Status      RequestStatus `json:"status"`
	ProcessedAt *time.Time    `json:"processedAt,omitempty"`
	ProcessedBy string        `json:"processedBy,omitempty"`
	AdminNotes  string        `json:"adminNotes,omitempty"`
}

// ReturnRequest is the embedded return sub-record, with the refund and
// return-shipping fields populated on approval.
type ReturnRequest struct {
	RequestedAt    time.Time       `json:"requestedAt"`
	Reason         string          `json:"reason"`
	Description    string          `json:"description"`
	Status         RequestStatus   `json:"status"`
	ProcessedAt    *time.Time      `json:"processedAt,omitempty"`
	ProcessedBy    string          `json:"processedBy,omitempty"`
	AdminNotes     string          `json:"adminNotes,omitempty"`
	TrackingNumber string          `json:"trackingNumber,omitempty"`
	RefundAmount   decimal.Decimal `json:"refundAmount"`
	RefundMethod   string          `json:"refundMethod,omitempty"`
}

// Order is a placed customer order. Number is immutable once assigned and
// globally unique. Totals always satisfy
// total = subtotal + shippingCost - discount with 0 <= discount <= subtotal.
type Order struct {
	ID             string
	Number         string
	UserID         string
	Items          []LineItem
	Address        Address
	PaymentMethod  string
	PaymentStatus  PaymentStatus
	Status         Status
	Subtotal       decimal.Decimal
	ShippingCost   decimal.Decimal
	Discount       decimal.Decimal
	Total          decimal.Decimal
	Coupon         *coupon.Snapshot
	PaymentRef     string
	TrackingNumber string
	Carrier        string
	Notes          string
	Cancellation   *CancellationRequest
	Return         *ReturnRequest
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Filter narrows admin order listings.
type Filter struct {
	Status Status
	UserID string
}

// Repository defines persistence operations for orders.
//
// Create is transactional: stock decrements, order-number allocation, the
// order insert, and coupon redemption either all commit or none do. Stock and
// coupon guards are conditional updates inside that transaction, so a lost
// race surfaces as OutOfStockError / coupon.ErrUsageLimitReached rather than
// overselling or overshooting a limit.
//
// Update is conditional on expectedUpdatedAt matching the stored row, so two
// writers racing on the same order cannot silently overwrite each other; the
// loser gets ErrConflict and must reload.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, f Filter) ([]Order, error)
	Update(ctx context.Context, o *Order, expectedUpdatedAt time.Time) error
	CountByUser(ctx context.Context, userID string) (int, error)
}
