package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Notification templates emitted by lifecycle transitions. The notifier maps
// them to outbound messages; the state machine only names them.
const (
	TemplateOrderConfirmation   = "order-confirmation"
	TemplateOrderShipped        = "order-shipped"
	TemplateOrderDelivered      = "order-delivered"
	TemplateOrderCancelled      = "order-cancelled"
	TemplateReturnProcessed     = "return-processed"
	TemplateCancellationRequest = "cancellation-request"
	TemplateReturnRequest       = "return-request"
)

// Notification is a fire-and-forget message the caller should send after the
// transition is persisted. Failures to send are logged, never rolled back.
type Notification struct {
	Template string
	OrderID  string
	Number   string
	UserID   string
	Data     map[string]string
}

// StockRestore is a compensating inventory increment the caller should apply
// after an approved cancellation is persisted.
type StockRestore struct {
	ProductID string
	SizeLabel string
	Quantity  int
}

// Effects is the list of side effects a transition produced. The state
// machine never touches persistence or notification collaborators itself; it
// returns the effects for the service to execute, which keeps transitions
// unit-testable without a database.
type Effects struct {
	Notifications []Notification
	StockRestores []StockRestore
}

func (e *Effects) notify(o *Order, template string, data map[string]string) {
	e.Notifications = append(e.Notifications, Notification{
		Template: template,
		OrderID:  o.ID,
		Number:   o.Number,
		UserID:   o.UserID,
		Data:     data,
	})
}

// cancellableStatuses are the states a cancellation request may be filed in.
var cancellableStatuses = map[Status]bool{
	StatusPending:    true,
	StatusConfirmed:  true,
	StatusProcessing: true,
}

// ApplyStatus overwrites the order status, stamping ShippedAt/DeliveredAt on
// entry to shipped/delivered. There is no transition table beyond caller
// discipline; admins drive this directly. A customer-facing notification is
// emitted for shipped, delivered, and cancelled.
func ApplyStatus(o *Order, newStatus Status, notes string, now time.Time) (Effects, error) {
	if !ValidStatus(newStatus) {
		return Effects{}, ErrInvalidStatus
	}

	o.Status = newStatus
	if notes != "" {
		o.Notes = notes
	}
	o.UpdatedAt = now

	var fx Effects
	switch newStatus {
	case StatusShipped:
		t := now
		o.ShippedAt = &t
		fx.notify(o, TemplateOrderShipped, map[string]string{
			"trackingNumber": o.TrackingNumber,
			"carrier":        o.Carrier,
		})
	case StatusDelivered:
		t := now
		o.DeliveredAt = &t
		fx.notify(o, TemplateOrderDelivered, nil)
	case StatusCancelled:
		fx.notify(o, TemplateOrderCancelled, nil)
	}
	return fx, nil
}

// RequestCancellation files a pending cancellation sub-record. Allowed only
// while the order is pending, confirmed, or processing, and only once.
func RequestCancellation(o *Order, reason, description string, now time.Time) (Effects, error) {
	if !cancellableStatuses[o.Status] {
		return Effects{}, ErrCancellationRejected
	}
	if o.Cancellation != nil {
		return Effects{}, ErrRequestAlreadyFiled
	}

	o.Cancellation = &CancellationRequest{
		RequestedAt: now,
		Reason:      reason,
		Description: description,
		Status:      RequestPending,
	}
	o.UpdatedAt = now

	var fx Effects
	fx.notify(o, TemplateCancellationRequest, map[string]string{"reason": reason})
	return fx, nil
}

// RequestReturn files a pending return sub-record. Allowed only for delivered
// orders, and only once.
func RequestReturn(o *Order, reason, description string, now time.Time) (Effects, error) {
	if o.Status != StatusDelivered {
		return Effects{}, ErrReturnRejected
	}
	if o.Return != nil {
		return Effects{}, ErrRequestAlreadyFiled
	}

	o.Return = &ReturnRequest{
		RequestedAt: now,
		Reason:      reason,
		Description: description,
		Status:      RequestPending,
	}
	o.UpdatedAt = now

	var fx Effects
	fx.notify(o, TemplateReturnRequest, map[string]string{"reason": reason})
	return fx, nil
}

// ProcessCancellation resolves a pending cancellation request. Approval
// forces the order to cancelled, marks payment refunded, and yields
// stock-restore effects for every line item. A second call against an
// already-resolved request fails with ErrNoPendingRequest; it never silently
// overwrites.
func ProcessCancellation(o *Order, approved bool, processedBy, notes string, now time.Time) (Effects, error) {
	if o.Cancellation == nil || o.Cancellation.Status != RequestPending {
		return Effects{}, ErrNoPendingRequest
	}

	t := now
	o.Cancellation.ProcessedAt = &t
	o.Cancellation.ProcessedBy = processedBy
	o.Cancellation.AdminNotes = notes
	o.UpdatedAt = now

	var fx Effects
	if !approved {
		o.Cancellation.Status = RequestRejected
		return fx, nil
	}

	o.Cancellation.Status = RequestApproved
	o.Status = StatusCancelled
	o.PaymentStatus = PaymentRefunded

	for _, it := range o.Items {
		fx.StockRestores = append(fx.StockRestores, StockRestore{
			ProductID: it.ProductID,
			SizeLabel: it.SizeLabel,
			Quantity:  it.Quantity,
		})
	}
	fx.notify(o, TemplateOrderCancelled, map[string]string{"reason": o.Cancellation.Reason})
	return fx, nil
}

// ProcessReturn resolves a pending return request. Approval forces the order
// to returned and populates the refund and return-tracking fields on the
// sub-record; a zero refund amount defaults to the order total. Single-shot,
// same as ProcessCancellation.
func ProcessReturn(o *Order, approved bool, processedBy string, refundAmount decimal.Decimal, refundMethod, trackingNumber, notes string, now time.Time) (Effects, error) {
	if o.Return == nil || o.Return.Status != RequestPending {
		return Effects{}, ErrNoPendingRequest
	}

	t := now
	o.Return.ProcessedAt = &t
	o.Return.ProcessedBy = processedBy
	o.Return.AdminNotes = notes
	o.UpdatedAt = now

	var fx Effects
	if !approved {
		o.Return.Status = RequestRejected
		return fx, nil
	}

	o.Return.Status = RequestApproved
	if refundAmount.Sign() <= 0 {
		refundAmount = o.Total
	}
	o.Return.RefundAmount = refundAmount
	o.Return.RefundMethod = refundMethod
	o.Return.TrackingNumber = trackingNumber
	o.Status = StatusReturned

	fx.notify(o, TemplateReturnProcessed, map[string]string{
		"refundAmount": refundAmount.StringFixed(2),
		"refundMethod": refundMethod,
	})
	return fx, nil
}
