package audit

import (
	"context"

	"pass-provisioning/internal/models"
)

// Publisher is satisfied by aws.SNSClient.
type Publisher interface {
	PublishJSON(ctx context.Context, topicARN, subject string, payload interface{}, attributes map[string]string) (string, error)
}

// SNSAlerter publishes terminal provisioning failures to an SNS topic.
type SNSAlerter struct {
	publisher Publisher
	topicARN  string
}

func NewSNSAlerter(publisher Publisher, topicARN string) *SNSAlerter {
	return &SNSAlerter{publisher: publisher, topicARN: topicARN}
}

func (a *SNSAlerter) Alert(ctx context.Context, entry *models.AuditEntry) error {
	attrs := map[string]string{"outcome": string(entry.Outcome)}
	if entry.ErrorCode != "" {
		attrs["errorCode"] = entry.ErrorCode
	}
	if entry.TenantID != "" {
		attrs["tenantId"] = entry.TenantID
	}
	_, err := a.publisher.PublishJSON(ctx, a.topicARN, "Pass provisioning failed", entry, attrs)
	return err
}
