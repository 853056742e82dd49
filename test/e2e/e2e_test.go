package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"pass-provisioning/internal/audit"
	"pass-provisioning/internal/catalog"
	"pass-provisioning/internal/common/clock"
	"pass-provisioning/internal/common/config"
	"pass-provisioning/internal/common/database"
	"pass-provisioning/internal/common/logger"
	"pass-provisioning/internal/models"
	"pass-provisioning/internal/processor"
	"pass-provisioning/internal/signature"
	"pass-provisioning/internal/subscription"
	"pass-provisioning/internal/webhook"
	"pass-provisioning/migrations"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const e2eSecret = "whsec_e2e"

var pg *database.PostgresClient

// TestMain connects to the Postgres named by E2E_POSTGRES_HOST. Without it the
// suite is skipped; it is meant for docker-compose runs, not unit CI.
func TestMain(m *testing.M) {
	host := os.Getenv("E2E_POSTGRES_HOST")
	if host == "" {
		fmt.Println("E2E_POSTGRES_HOST not set, skipping e2e suite")
		os.Exit(0)
	}

	port, _ := strconv.Atoi(os.Getenv("E2E_POSTGRES_PORT"))
	if port == 0 {
		port = 5432
	}
	var err error
	pg, err = database.NewPostgres(config.PostgresConfig{
		Host:           host,
		Port:           port,
		Database:       envOr("E2E_POSTGRES_DB", "passes"),
		User:           envOr("E2E_POSTGRES_USER", "passes"),
		Password:       envOr("E2E_POSTGRES_PASSWORD", "passes"),
		SSLMode:        "disable",
		MaxConnections: 10,
		MaxIdle:        2,
	})
	if err != nil {
		panic(fmt.Sprintf("connect postgres: %v", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := migrations.Apply(ctx, pg.DB); err != nil {
		panic(fmt.Sprintf("apply migrations: %v", err))
	}
	cancel()

	code := m.Run()
	pg.Close()
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type stack struct {
	server  *httptest.Server
	store   *subscription.Store
	history *audit.PostgresSink
	tenant  string
}

func newStack(t *testing.T) *stack {
	t.Helper()
	log := logger.NewTestLogger(t)
	clk := clock.NewSystem()
	tenant := "e2e-" + uuid.NewString()[:8]

	days := 90
	limit := 10
	source := catalog.NewPostgresSource(pg.DB)
	_, err := catalog.Seed(context.Background(), source, nil, []catalog.PolicyInput{{
		ID: "pass_10", TenantID: tenant, Name: "10 classes", Kind: models.PassKindCountLimited,
		PriceMinor: 9000, Currency: "EUR", Days: &days, ClassesLimit: &limit, Active: true,
	}})
	require.NoError(t, err)

	store := subscription.NewStore(pg.DB)
	sink := audit.NewPostgresSink(pg.DB)
	proc := processor.New(processor.Deps{
		Verifier: signature.NewVerifier(signature.StaticSecret(e2eSecret), 5*time.Minute, clk),
		Catalog:  source,
		Guard:    subscription.NewGuard(store),
		Writer:   subscription.NewWriter(store, clk),
		Audit:    audit.NewTrail(sink, log),
		Clock:    clk,
		Logger:   log,
	}, processor.DefaultRetryPolicy())

	srv := webhook.NewServer(config.WebhookConfig{
		Path:         "/webhooks/payments",
		Mode:         config.WebhookModeInline,
		MaxBodyBytes: 1 << 16,
	}, webhook.Options{Processor: proc, Verifier: proc.Verifier(), Logger: log})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &stack{server: ts, store: store, history: sink, tenant: tenant}
}

func (s *stack) post(payload []byte) (int, map[string]interface{}, error) {
	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/webhooks/payments", bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.HeaderName, signature.Sign(e2eSecret, time.Now(), payload))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body, nil
}

func (s *stack) deliver(t *testing.T, payload []byte) (int, map[string]interface{}) {
	t.Helper()
	status, body, err := s.post(payload)
	require.NoError(t, err)
	return status, body
}

func (s *stack) event(eventID, sessionID string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"type":"checkout.session.completed","created":%d,`+
		`"data":{"sessionId":%q,"amount":9000,"currency":"eur","completedAt":%q,`+
		`"metadata":{"productId":"pass_10","beneficiaryId":"member-1","tenantId":%q,"purchaseType":"pass_purchase"}}}`,
		eventID, time.Now().Unix(), sessionID, time.Now().UTC().Format(time.RFC3339), s.tenant))
}

func TestWebhookToPostgres_ProvisionsOnceAcrossRedeliveries(t *testing.T) {
	s := newStack(t)
	eventID := "evt_" + uuid.NewString()
	sessionID := "cs_" + uuid.NewString()
	payload := s.event(eventID, sessionID)

	status, body := s.deliver(t, payload)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(models.OutcomeSucceeded), body["outcome"])

	status, body = s.deliver(t, payload)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(models.OutcomeSkippedDuplicate), body["outcome"])

	subs, err := s.store.ListByBeneficiary(context.Background(), s.tenant, "member-1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, sessionID, subs[0].SessionID)
	require.NotNil(t, subs[0].UsageLimit)
	assert.Equal(t, 10, *subs[0].UsageLimit)
	assert.True(t, subs[0].ExpiresAt.After(subs[0].ActivatedAt))

	entries, err := s.history.History(context.Background(), eventID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.OutcomeSucceeded, entries[0].Outcome)
	assert.Equal(t, models.OutcomeSkippedDuplicate, entries[1].Outcome)
}

func TestWebhookToPostgres_ConcurrentDeliveries(t *testing.T) {
	s := newStack(t)
	payload := s.event("evt_"+uuid.NewString(), "cs_"+uuid.NewString())

	var wg sync.WaitGroup
	statuses := make([]int, 6)
	for i := range statuses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			statuses[i], _, _ = s.post(payload)
		}(i)
	}
	wg.Wait()

	for _, st := range statuses {
		assert.Equal(t, http.StatusOK, st)
	}
	subs, err := s.store.ListByBeneficiary(context.Background(), s.tenant, "member-1")
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestWebhookToPostgres_RejectsForgedSignature(t *testing.T) {
	s := newStack(t)
	payload := s.event("evt_"+uuid.NewString(), "cs_"+uuid.NewString())

	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/webhooks/payments", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set(signature.HeaderName, signature.Sign("whsec_forged", time.Now(), payload))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	subs, err := s.store.ListByBeneficiary(context.Background(), s.tenant, "member-1")
	require.NoError(t, err)
	assert.Empty(t, subs)
}
