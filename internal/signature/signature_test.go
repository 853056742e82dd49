package signature

import (
	"fmt"
	"testing"
	"time"

	"pass-provisioning/internal/common/clock"
	apperrors "pass-provisioning/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	now     = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	payload = []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
)

type accountSecrets map[string]string

func (a accountSecrets) WebhookSecret(account string) string {
	if s, ok := a[account]; ok {
		return s
	}
	return a[""]
}

func newVerifier() *Verifier {
	return NewVerifier(accountSecrets{"": "whsec_default", "acct_2": "whsec_tenant2"}, 5*time.Minute, clock.NewManual(now))
}

func TestVerify_Accepts(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		account string
	}{
		{"signed now", Sign("whsec_default", now, payload), ""},
		{"signed within tolerance", Sign("whsec_default", now.Add(-4*time.Minute), payload), ""},
		{"per account secret", Sign("whsec_tenant2", now, payload), "acct_2"},
		{"unknown account falls back to default", Sign("whsec_default", now, payload), "acct_unknown"},
		{
			"rotated secret among several signatures",
			Sign("whsec_old", now, payload) + "," + Sign("whsec_default", now, payload)[len(fmt.Sprintf("t=%d,", now.Unix())):],
			"",
		},
	}

	v := newVerifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, v.Verify(payload, tt.header, tt.account))
		})
	}
}

func TestVerify_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		body    []byte
		account string
		wantErr error
	}{
		{"missing header", "", payload, "", ErrMissingHeader},
		{"garbage header", "nonsense", payload, "", ErrMalformedHeader},
		{"no timestamp", "v1=abcd", payload, "", ErrMalformedHeader},
		{"no signature", fmt.Sprintf("t=%d", now.Unix()), payload, "", ErrMalformedHeader},
		{"stale timestamp", Sign("whsec_default", now.Add(-6*time.Minute), payload), payload, "", ErrTimestampSkew},
		{"future timestamp", Sign("whsec_default", now.Add(10*time.Minute), payload), payload, "", ErrTimestampSkew},
		{"wrong secret", Sign("whsec_attacker", now, payload), payload, "", ErrNoMatch},
		{"tampered body", Sign("whsec_default", now, payload), []byte(`{"id":"evt_2"}`), "", ErrNoMatch},
		{"other tenant's secret", Sign("whsec_default", now, payload), payload, "acct_2", ErrNoMatch},
	}

	v := newVerifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(tt.body, tt.header, tt.account)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAuthenticity))
			assert.False(t, apperrors.IsRetryable(err))
		})
	}
}

func TestVerify_NoSecretConfigured(t *testing.T) {
	v := NewVerifier(StaticSecret(""), time.Minute, clock.NewManual(now))

	err := v.Verify(payload, Sign("x", now, payload), "")
	assert.ErrorIs(t, err, ErrNoSecretForRoute)
}
