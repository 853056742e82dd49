package processor

import "pass-provisioning/internal/models"

// State is a step in the life of one delivery. Provisioned, Skipped,
// Ignored and Failed are terminal.
type State string

const (
	StateReceived           State = "received"
	StateVerifying          State = "verifying"
	StateMetadataValidated  State = "metadata_validated"
	StateIdempotencyChecked State = "idempotency_checked"
	StateProvisioned        State = "provisioned"
	StateSkipped            State = "skipped"
	StateIgnored            State = "ignored"
	StateFailed             State = "failed"
)

func (s State) Terminal() bool {
	switch s {
	case StateProvisioned, StateSkipped, StateIgnored, StateFailed:
		return true
	default:
		return false
	}
}

// Envelope is one delivery as received: the raw body exactly as signed.
type Envelope struct {
	Payload   []byte
	Signature string
	Account   string
	Source    string
}

// Result describes how a delivery ended.
type Result struct {
	EventID      string
	EventType    models.EventType
	TenantID     string
	State        State
	Outcome      models.AuditOutcome
	Subscription *models.Subscription
	// Attempts counts store round trips, first try included.
	Attempts    int
	Transitions []State
	// Err is the classified failure for StateFailed.
	Err error
	// AuditErr is set when the outcome could not be persisted. The delivery
	// must then not be acknowledged.
	AuditErr error
	// Interrupted is set when processing stopped because ctx ended.
	Interrupted bool
	// Malformed is set when the body was authentic but not a decodable event.
	Malformed bool
}

func (r *Result) transition(s State) {
	r.State = s
	r.Transitions = append(r.Transitions, s)
}

// Recorded reports whether a terminal outcome reached the audit trail.
func (r *Result) Recorded() bool {
	return r.State.Terminal() && r.AuditErr == nil && !r.Interrupted
}
