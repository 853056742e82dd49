package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validEvent = `{
  "id": "evt_1",
  "type": "checkout.session.completed",
  "created": 1735689600,
  "data": {
    "sessionId": "cs_1",
    "amount": 4500,
    "currency": "eur",
    "completedAt": "2025-01-01T00:00:00Z",
    "metadata": {
      "productId": "pass_10",
      "beneficiaryId": "user_1",
      "tenantId": "studio_1",
      "purchaseType": "pass_purchase"
    }
  }
}`

func TestValidateEnvelope(t *testing.T) {
	tests := []struct {
		name       string
		doc        string
		valid      bool
		errorField string
	}{
		{"valid event", validEvent, true, ""},
		{"missing id", `{"type":"x","data":{}}`, false, "id"},
		{"empty type", `{"id":"evt","type":"","data":{}}`, false, "type"},
		{"data not object", `{"id":"evt","type":"x","data":"nope"}`, false, "data"},
		{"not json", `{"id":`, false, "(root)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateEnvelope([]byte(tt.doc))
			assert.Equal(t, tt.valid, result.Valid, result.String())
			if tt.errorField != "" {
				assert.True(t, result.HasErrors(tt.errorField), "fields: %v", result.Fields())
			}
		})
	}
}

func TestValidateCorrelation(t *testing.T) {
	t.Run("complete metadata", func(t *testing.T) {
		result := ValidateCorrelation([]byte(validEvent))
		assert.True(t, result.Valid, result.String())
	})

	t.Run("missing tenant id", func(t *testing.T) {
		doc := `{"id":"evt","type":"checkout.session.completed","data":{"sessionId":"cs_1",
			"metadata":{"productId":"p","beneficiaryId":"b","purchaseType":"pass_purchase"}}}`
		result := ValidateCorrelation([]byte(doc))
		require.False(t, result.Valid)
		assert.True(t, result.HasErrors("data.metadata.tenantId"), "fields: %v", result.Fields())
	})

	incomplete := []struct {
		name     string
		metadata string
		field    string
	}{
		{"missing product id", `"beneficiaryId":"b","tenantId":"t","purchaseType":"pass_purchase"`, "data.metadata.productId"},
		{"empty product id", `"productId":"","beneficiaryId":"b","tenantId":"t","purchaseType":"pass_purchase"`, "data.metadata.productId"},
		{"missing beneficiary id", `"productId":"p","tenantId":"t","purchaseType":"pass_purchase"`, "data.metadata.beneficiaryId"},
		{"empty beneficiary id", `"productId":"p","beneficiaryId":"","tenantId":"t","purchaseType":"pass_purchase"`, "data.metadata.beneficiaryId"},
		{"empty tenant id", `"productId":"p","beneficiaryId":"b","tenantId":"","purchaseType":"pass_purchase"`, "data.metadata.tenantId"},
	}
	for _, tt := range incomplete {
		t.Run(tt.name, func(t *testing.T) {
			doc := `{"data":{"sessionId":"cs_1","metadata":{` + tt.metadata + `}}}`
			result := ValidateCorrelation([]byte(doc))
			require.False(t, result.Valid)
			assert.True(t, result.HasErrors(tt.field), "fields: %v", result.Fields())
		})
	}

	t.Run("wrong discriminator", func(t *testing.T) {
		doc := `{"data":{"sessionId":"cs_1",
			"metadata":{"productId":"p","beneficiaryId":"b","tenantId":"t","purchaseType":"gift_card"}}}`
		result := ValidateCorrelation([]byte(doc))
		assert.False(t, result.Valid)
	})

	t.Run("no correlation id", func(t *testing.T) {
		doc := `{"data":{"metadata":{"productId":"p","beneficiaryId":"b","tenantId":"t","purchaseType":"pass_purchase"}}}`
		result := ValidateCorrelation([]byte(doc))
		assert.False(t, result.Valid)
	})

	t.Run("payment id alone is enough", func(t *testing.T) {
		doc := `{"data":{"paymentId":"pi_1",
			"metadata":{"productId":"p","beneficiaryId":"b","tenantId":"t","purchaseType":"pass_purchase"}}}`
		result := ValidateCorrelation([]byte(doc))
		assert.True(t, result.Valid, result.String())
	})
}
