package models

import "time"

type EventType string

const (
	EventCheckoutSessionCompleted EventType = "checkout.session.completed"
	EventPaymentIntentSucceeded   EventType = "payment_intent.succeeded"
)

// PurchaseTypePass marks a payment as a pass purchase in its metadata.
const PurchaseTypePass = "pass_purchase"

// Supported reports whether events of this type can provision a pass.
func (t EventType) Supported() bool {
	return t == EventCheckoutSessionCompleted || t == EventPaymentIntentSucceeded
}

// PaymentEvent is an inbound notification from the payment processor.
type PaymentEvent struct {
	ID      string      `json:"id"`
	Type    EventType   `json:"type"`
	Created int64       `json:"created"`
	Account string      `json:"account,omitempty"`
	Data    PaymentData `json:"data"`
}

type PaymentData struct {
	SessionID   string              `json:"sessionId,omitempty"`
	PaymentID   string              `json:"paymentId,omitempty"`
	AmountMinor int64               `json:"amount"`
	Currency    string              `json:"currency"`
	CompletedAt *time.Time          `json:"completedAt,omitempty"`
	Metadata    CorrelationMetadata `json:"metadata"`
}

// CorrelationMetadata is attached at checkout time and carried back on
// every event for that purchase.
type CorrelationMetadata struct {
	ProductID     string `json:"productId"`
	BeneficiaryID string `json:"beneficiaryId"`
	TenantID      string `json:"tenantId"`
	PurchaseType  string `json:"purchaseType"`
}

// ActivationInstant is when the transaction completed: the explicit
// completion time if present, otherwise the event creation time.
func (e *PaymentEvent) ActivationInstant() (time.Time, bool) {
	if e.Data.CompletedAt != nil && !e.Data.CompletedAt.IsZero() {
		return e.Data.CompletedAt.UTC(), true
	}
	if e.Created > 0 {
		return time.Unix(e.Created, 0).UTC(), true
	}
	return time.Time{}, false
}

// Correlation returns the identifiers used to recognise repeat deliveries.
func (e *PaymentEvent) Correlation() Correlation {
	return Correlation{SessionID: e.Data.SessionID, PaymentID: e.Data.PaymentID}
}

// Correlation holds the processor-assigned ids of one purchase. Either may be
// empty, never both.
type Correlation struct {
	SessionID string `json:"sessionId,omitempty"`
	PaymentID string `json:"paymentId,omitempty"`
}

func (c Correlation) Empty() bool {
	return c.SessionID == "" && c.PaymentID == ""
}

func (c Correlation) String() string {
	switch {
	case c.SessionID != "" && c.PaymentID != "":
		return "session=" + c.SessionID + " payment=" + c.PaymentID
	case c.SessionID != "":
		return "session=" + c.SessionID
	default:
		return "payment=" + c.PaymentID
	}
}
