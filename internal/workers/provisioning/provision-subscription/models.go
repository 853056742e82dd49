package provisionsubscription

// Input is what the webhook published with the payment-event-received
// message.
type Input struct {
	EventID    string `json:"eventId"`
	Payload    string `json:"payload"`
	Signature  string `json:"signature"`
	Account    string `json:"account"`
	ReceivedAt string `json:"receivedAt"`
}

type Output struct {
	EventID        string `json:"eventId"`
	Outcome        string `json:"outcome"`
	State          string `json:"provisioningState"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
	Attempts       int    `json:"attempts"`
}
