// Package signature signs and verifies payment processor webhook payloads.
//
// The header has the form "t=<unix seconds>,v1=<hex hmac>" where the HMAC is
// SHA-256 over "<t>.<raw body>" keyed by the endpoint secret. Several v1
// entries may appear while a secret is being rotated.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pass-provisioning/internal/common/clock"
	apperrors "pass-provisioning/internal/common/errors"
)

const (
	HeaderName        = "Payment-Signature"
	AccountHeaderName = "Payment-Account"
	schemeV1          = "v1"
)

var (
	ErrMissingHeader    = stderrors.New("signature header missing")
	ErrMalformedHeader  = stderrors.New("signature header malformed")
	ErrTimestampSkew    = stderrors.New("signature timestamp outside tolerance")
	ErrNoMatch          = stderrors.New("no signature matches the payload")
	ErrNoSecretForRoute = stderrors.New("no signing secret configured")
)

// SecretResolver returns the signing secret for a processor account. An
// empty account selects the default secret.
type SecretResolver interface {
	WebhookSecret(account string) string
}

// StaticSecret resolves every account to one secret.
type StaticSecret string

func (s StaticSecret) WebhookSecret(string) string { return string(s) }

type Verifier struct {
	secrets   SecretResolver
	tolerance time.Duration
	clock     clock.Clock
}

func NewVerifier(secrets SecretResolver, tolerance time.Duration, clk clock.Clock) *Verifier {
	return &Verifier{secrets: secrets, tolerance: tolerance, clock: clk}
}

// Verify checks header against payload. Every failure is an
// AUTHENTICITY_ERROR and must never be retried.
func (v *Verifier) Verify(payload []byte, header, account string) error {
	if err := v.verify(payload, header, account); err != nil {
		return apperrors.NewAuthenticityError(err.Error(), err)
	}
	return nil
}

func (v *Verifier) verify(payload []byte, header, account string) error {
	if strings.TrimSpace(header) == "" {
		return ErrMissingHeader
	}

	secret := v.secrets.WebhookSecret(account)
	if secret == "" {
		return ErrNoSecretForRoute
	}

	ts, sigs, err := parseHeader(header)
	if err != nil {
		return err
	}

	if v.tolerance > 0 {
		skew := v.clock.Now().Sub(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > v.tolerance {
			return fmt.Errorf("%w: %s", ErrTimestampSkew, skew.Truncate(time.Second))
		}
	}

	expected := computeMAC(secret, ts, payload)
	for _, sig := range sigs {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return ErrNoMatch
}

func parseHeader(header string) (int64, [][]byte, error) {
	var (
		ts    int64
		hasTS bool
		sigs  [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return 0, nil, fmt.Errorf("%w: %q", ErrMalformedHeader, part)
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp", ErrMalformedHeader)
			}
			ts, hasTS = parsed, true
		case schemeV1:
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			sigs = append(sigs, sig)
		}
	}
	if !hasTS {
		return 0, nil, fmt.Errorf("%w: no timestamp", ErrMalformedHeader)
	}
	if len(sigs) == 0 {
		return 0, nil, fmt.Errorf("%w: no %s signature", ErrMalformedHeader, schemeV1)
	}
	return ts, sigs, nil
}

func computeMAC(secret string, ts int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// Sign produces a header value for payload at instant at.
func Sign(secret string, at time.Time, payload []byte) string {
	ts := at.Unix()
	return fmt.Sprintf("t=%d,%s=%s", ts, schemeV1, hex.EncodeToString(computeMAC(secret, ts, payload)))
}
