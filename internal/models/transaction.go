package models

import "time"

// Transaction is a completed payment as reported by the processor's API.
type Transaction struct {
	ID          string            `json:"id"`
	Type        EventType         `json:"type"`
	Status      string            `json:"status"`
	SessionID   string            `json:"sessionId,omitempty"`
	PaymentID   string            `json:"paymentId,omitempty"`
	AmountMinor int64             `json:"amount"`
	Currency    string            `json:"currency"`
	CompletedAt time.Time         `json:"completedAt"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (t *Transaction) Correlation() Correlation {
	return Correlation{SessionID: t.SessionID, PaymentID: t.PaymentID}
}

// CorrelationMetadata extracts pass purchase metadata; ok is false when any
// required key is missing.
func (t *Transaction) CorrelationMetadata() (CorrelationMetadata, bool) {
	md := CorrelationMetadata{
		ProductID:     t.Metadata["productId"],
		BeneficiaryID: t.Metadata["beneficiaryId"],
		TenantID:      t.Metadata["tenantId"],
		PurchaseType:  t.Metadata["purchaseType"],
	}
	ok := md.ProductID != "" && md.BeneficiaryID != "" && md.TenantID != "" && md.PurchaseType == PurchaseTypePass
	return md, ok
}
