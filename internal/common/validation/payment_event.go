package validation

// envelopeSchema is what every signed delivery must satisfy before its type
// is even looked at.
const envelopeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "type", "data"],
  "properties": {
    "id":      {"type": "string", "minLength": 1},
    "type":    {"type": "string", "minLength": 1},
    "created": {"type": "integer", "minimum": 0},
    "account": {"type": "string"},
    "data":    {"type": "object"}
  }
}`

// correlationSchema covers the fields provisioning cannot proceed without:
// the purchase discriminator, who and what was bought, and at least one
// processor-assigned correlation id.
const correlationSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["data"],
  "properties": {
    "data": {
      "type": "object",
      "required": ["metadata"],
      "properties": {
        "sessionId":   {"type": "string"},
        "paymentId":   {"type": "string"},
        "amount":      {"type": "integer", "minimum": 0},
        "currency":    {"type": "string"},
        "completedAt": {"type": "string", "format": "date-time"},
        "metadata": {
          "type": "object",
          "required": ["productId", "beneficiaryId", "tenantId", "purchaseType"],
          "properties": {
            "productId":     {"type": "string", "minLength": 1},
            "beneficiaryId": {"type": "string", "minLength": 1},
            "tenantId":      {"type": "string", "minLength": 1},
            "purchaseType":  {"type": "string", "enum": ["pass_purchase"]}
          }
        }
      },
      "anyOf": [
        {"required": ["sessionId"], "properties": {"sessionId": {"minLength": 1}}},
        {"required": ["paymentId"], "properties": {"paymentId": {"minLength": 1}}}
      ]
    }
  }
}`

var (
	envelope    = Compile(envelopeSchema)
	correlation = Compile(correlationSchema)
)

// ValidateEnvelope checks the outer event shape: id, type and data object.
func ValidateEnvelope(raw []byte) *ValidationResult {
	return ValidateDocument(envelope, raw)
}

// ValidateCorrelation checks that an event carries complete pass purchase
// metadata and a session or payment id.
func ValidateCorrelation(raw []byte) *ValidationResult {
	return ValidateDocument(correlation, raw)
}
