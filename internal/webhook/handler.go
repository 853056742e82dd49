package webhook

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"pass-provisioning/internal/common/camunda"
	"pass-provisioning/internal/common/config"
	apperrors "pass-provisioning/internal/common/errors"
	"pass-provisioning/internal/common/metrics"
	"pass-provisioning/internal/common/observability"
	"pass-provisioning/internal/common/validation"
	"pass-provisioning/internal/models"
	"pass-provisioning/internal/processor"
	"pass-provisioning/internal/signature"

	"github.com/gin-gonic/gin"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) handlePaymentEvent(c *gin.Context) {
	ctx, span := s.tracer.Start(c.Request.Context(), observability.SpanWebhook)
	defer span.End()

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			s.respond(c, http.StatusRequestEntityTooLarge, errorBody{Error: "PAYLOAD_TOO_LARGE", Message: "request body exceeds limit"})
			return
		}
		s.respond(c, http.StatusBadRequest, errorBody{Error: "UNREADABLE_BODY", Message: err.Error()})
		return
	}

	header := c.GetHeader(signature.HeaderName)
	account := c.GetHeader(signature.AccountHeaderName)

	if s.cfg.Mode == config.WebhookModeZeebe {
		s.enqueue(c, payload, header, account)
		return
	}

	res := s.processor.Process(ctx, processor.Envelope{
		Payload:   payload,
		Signature: header,
		Account:   account,
		Source:    models.SourceWebhook,
	})
	status, body := responseFor(res)
	s.respond(c, status, body)
}

// responseFor maps a processing result onto what the payment processor
// should see. Terminal provisioning failures are acknowledged because the
// audit trail holds them; only an unrecorded outcome asks for redelivery.
func responseFor(res *processor.Result) (int, interface{}) {
	switch {
	case apperrors.HasCode(res.Err, apperrors.ErrCodeAuthenticity):
		return http.StatusUnauthorized, errorBody{Error: "EVENT_NOT_AUTHENTIC", Message: "signature verification failed"}
	case res.Malformed:
		return http.StatusBadRequest, errorBody{Error: "MALFORMED_EVENT", Message: apperrors.AsStandard(res.Err).Details}
	case res.Interrupted:
		return http.StatusServiceUnavailable, errorBody{Error: "INTERRUPTED", Message: "processing interrupted, redeliver"}
	case res.AuditErr != nil:
		return http.StatusInternalServerError, errorBody{Error: "AUDIT_WRITE_FAILED", Message: "outcome not recorded, redeliver"}
	}

	body := gin.H{
		"received": true,
		"eventId":  res.EventID,
		"outcome":  res.Outcome,
	}
	if res.Subscription != nil {
		body["subscriptionId"] = res.Subscription.ID
	}
	return http.StatusOK, body
}

// enqueue authenticates the delivery and hands it to Zeebe. The worker
// verifies the signature again before provisioning.
func (s *Server) enqueue(c *gin.Context, payload []byte, header, account string) {
	if err := s.verifier.Verify(payload, header, account); err != nil {
		s.logger.Warn("Rejected unauthenticated delivery", map[string]interface{}{
			"error":   err.Error(),
			"account": account,
		})
		s.respond(c, http.StatusUnauthorized, errorBody{Error: "EVENT_NOT_AUTHENTIC", Message: "signature verification failed"})
		return
	}

	if result := validation.ValidateEnvelope(payload); !result.Valid {
		s.respond(c, http.StatusBadRequest, errorBody{Error: "MALFORMED_EVENT", Message: result.String()})
		return
	}
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		s.respond(c, http.StatusBadRequest, errorBody{Error: "MALFORMED_EVENT", Message: "event body does not decode: " + err.Error()})
		return
	}

	err := s.publisher.PublishPaymentEvent(c.Request.Context(), camunda.PaymentEventMessage{
		EventID:    head.ID,
		Payload:    payload,
		Signature:  header,
		Account:    account,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("Failed to queue payment event", map[string]interface{}{
			"eventId": head.ID,
			"error":   err.Error(),
		})
		s.respond(c, http.StatusServiceUnavailable, errorBody{Error: "QUEUE_UNAVAILABLE", Message: "event not queued, redeliver"})
		return
	}

	s.respond(c, http.StatusAccepted, gin.H{"received": true, "eventId": head.ID, "queued": true})
}

func (s *Server) respond(c *gin.Context, status int, body interface{}) {
	metrics.WebhookRequests.WithLabelValues(strconv.Itoa(status)).Inc()
	c.JSON(status, body)
}
