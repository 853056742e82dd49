package camunda

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "pass-provisioning/internal/common/errors"
	"pass-provisioning/internal/common/retry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// MessagePaymentEventReceived starts one provisioning process instance.
const MessagePaymentEventReceived = "payment-event-received"

// Client wraps the Zeebe gRPC client with error mapping and retries.
type Client struct {
	client zbc.Client
	config *ClientConfig
}

type ClientConfig struct {
	GatewayAddress         string
	UsePlaintextConnection bool
	ConnectionTimeout      time.Duration
	RequestTimeout         time.Duration
	MessageTTL             time.Duration
	Retry                  retry.Policy
}

var DefaultRetryPolicy = retry.Policy{
	MaxAttempts: 4,
	BaseDelay:   1 * time.Second,
	MaxDelay:    10 * time.Second,
	Backoff:     retry.Exponential,
}

// NewClient creates a client with local-development defaults.
func NewClient(address string) (*Client, error) {
	return NewClientWithConfig(&ClientConfig{
		GatewayAddress:         address,
		UsePlaintextConnection: true,
		ConnectionTimeout:      10 * time.Second,
		RequestTimeout:         30 * time.Second,
		MessageTTL:             time.Hour,
		Retry:                  DefaultRetryPolicy,
	})
}

// NewClientWithConfig dials the gateway and checks the topology before
// returning.
func NewClientWithConfig(config *ClientConfig) (*Client, error) {
	if config.Retry.MaxAttempts == 0 {
		config.Retry = DefaultRetryPolicy
	}
	if config.MessageTTL <= 0 {
		config.MessageTTL = time.Hour
	}

	zeebeClient, err := zbc.NewClient(&zbc.ClientConfig{
		GatewayAddress:         config.GatewayAddress,
		UsePlaintextConnection: config.UsePlaintextConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Zeebe client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectionTimeout)
	defer cancel()

	if _, err := zeebeClient.NewTopologyCommand().Send(ctx); err != nil {
		zeebeClient.Close()
		return nil, fmt.Errorf("failed to connect to Zeebe broker at %s: %w", config.GatewayAddress, err)
	}

	return &Client{
		client: zeebeClient,
		config: config,
	}, nil
}

// GetClient returns the raw Zeebe client for job workers.
func (c *Client) GetClient() zbc.Client {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}

// ExecuteWithRetry runs a Zeebe command, retrying transient gateway errors.
func (c *Client) ExecuteWithRetry(
	ctx context.Context,
	commandFunc func(context.Context) (interface{}, error),
	operationName string,
) (interface{}, error) {
	var result interface{}
	policy := c.config.Retry
	policy.AttemptTimeout = c.config.RequestTimeout

	attempts, err := retry.Do(ctx, policy, isRetryableZeebeError, nil, func(ctx context.Context, _ int) error {
		var cmdErr error
		result, cmdErr = commandFunc(ctx)
		return cmdErr
	})
	if err != nil {
		return nil, mapZeebeError(err, operationName, attempts)
	}
	return result, nil
}

// PaymentEventMessage is the queued form of a verified webhook delivery.
type PaymentEventMessage struct {
	EventID    string
	Payload    []byte
	Signature  string
	Account    string
	ReceivedAt time.Time
}

// PublishPaymentEvent queues a delivery for the provision-subscription
// worker. The event id is the message id, so a redelivery inside the TTL is
// rejected by the broker and reported here as success.
func (c *Client) PublishPaymentEvent(ctx context.Context, msg PaymentEventMessage) error {
	vars := map[string]interface{}{
		"eventId":    msg.EventID,
		"payload":    string(msg.Payload),
		"signature":  msg.Signature,
		"account":    msg.Account,
		"receivedAt": msg.ReceivedAt.UTC().Format(time.RFC3339),
	}

	_, err := c.ExecuteWithRetry(ctx, func(ctx context.Context) (interface{}, error) {
		cmd, err := c.client.NewPublishMessageCommand().
			MessageName(MessagePaymentEventReceived).
			CorrelationKey(msg.EventID).
			MessageId(msg.EventID).
			TimeToLive(c.config.MessageTTL).
			VariablesFromMap(vars)
		if err != nil {
			return nil, err
		}
		return cmd.Send(ctx)
	}, "publish_message")

	if apperrors.HasCode(err, apperrors.ErrCodeDuplicateEvent) {
		return nil
	}
	return err
}

func isRetryableZeebeError(err error) bool {
	msg := strings.ToLower(err.Error())
	retryablePhrases := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"deadline exceeded",
		"unavailable",
		"unreachable",
		"broken pipe",
		"resource_exhausted",
	}
	for _, phrase := range retryablePhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

func mapZeebeError(err error, operation string, attempts int) error {
	msg := err.Error()
	lowerMsg := strings.ToLower(msg)

	enhanced := fmt.Sprintf("zeebe %s failed", operation)
	if attempts > 1 {
		enhanced += fmt.Sprintf(" after %d attempts", attempts)
	}
	wrapped := fmt.Errorf("%s: %w", enhanced, err)

	switch {
	case strings.Contains(lowerMsg, "already exists") ||
		strings.Contains(lowerMsg, "already_exists"):
		return apperrors.NewDuplicateEventError(fmt.Sprintf("%s: %s", enhanced, msg))

	case strings.Contains(lowerMsg, "permission denied") ||
		strings.Contains(lowerMsg, "unauthenticated") ||
		strings.Contains(lowerMsg, "unauthorized"):
		return apperrors.NewInternalError(fmt.Sprintf("%s: %s", enhanced, msg), err)

	default:
		return apperrors.NewTransientStoreError("zeebe."+operation, wrapped)
	}
}

// HealthCheck asks the broker for its topology.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.ConnectionTimeout)
	defer cancel()

	if _, err := c.client.NewTopologyCommand().Send(ctx); err != nil {
		return fmt.Errorf("zeebe health check failed: %w", err)
	}
	return nil
}
