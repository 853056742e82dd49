package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pass-provisioning/internal/common/validation"
	"pass-provisioning/internal/models"
)

var policyFileSchema = validation.Compile(`{
	"type": "object",
	"required": ["policies"],
	"properties": {
		"policies": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "tenantId", "name", "kind", "currency"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"tenantId": {"type": "string", "minLength": 1},
					"name": {"type": "string"},
					"kind": {"enum": ["single_use", "count_limited", "unlimited"]},
					"priceMinor": {"type": "integer", "minimum": 0},
					"currency": {"type": "string", "minLength": 3, "maxLength": 3},
					"expiryInstant": {"type": "string", "format": "date-time"},
					"days": {"type": "integer", "minimum": 1},
					"classesLimit": {"type": "integer", "minimum": 1},
					"active": {"type": "boolean"}
				}
			}
		}
	}
}`)

// PolicyFile is the on-disk format read by the seeding command.
type PolicyFile struct {
	Policies []PolicyEntry `json:"policies"`
}

type PolicyEntry struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenantId"`
	Name          string     `json:"name"`
	Kind          string     `json:"kind"`
	PriceMinor    int64      `json:"priceMinor"`
	Currency      string     `json:"currency"`
	ExpiryInstant *time.Time `json:"expiryInstant,omitempty"`
	Days          *int       `json:"days,omitempty"`
	ClassesLimit  *int       `json:"classesLimit,omitempty"`
	Active        *bool      `json:"active,omitempty"`
}

// ParsePolicyFile validates raw against the policy file schema and converts
// every entry. Entries without "active" are active.
func ParsePolicyFile(raw []byte) ([]PolicyInput, error) {
	if result := validation.ValidateDocument(policyFileSchema, raw); !result.Valid {
		return nil, fmt.Errorf("invalid policy file: %s", result.String())
	}

	var file PolicyFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode policy file: %w", err)
	}

	inputs := make([]PolicyInput, 0, len(file.Policies))
	for _, p := range file.Policies {
		active := true
		if p.Active != nil {
			active = *p.Active
		}
		inputs = append(inputs, PolicyInput{
			ID:            p.ID,
			TenantID:      p.TenantID,
			Name:          p.Name,
			Kind:          models.PassKind(p.Kind),
			PriceMinor:    p.PriceMinor,
			Currency:      p.Currency,
			ExpiryInstant: p.ExpiryInstant,
			Days:          p.Days,
			ClassesLimit:  p.ClassesLimit,
			Active:        active,
		})
	}
	return inputs, nil
}

// Upserter writes catalog entries.
type Upserter interface {
	UpsertPolicy(ctx context.Context, in PolicyInput) error
}

// Invalidator drops cached copies of a policy.
type Invalidator interface {
	Invalidate(ctx context.Context, productID, tenantID string) error
}

// Seed upserts every input in order and drops its cache entry when inv is
// set. It stops at the first failed write and reports how many were written.
func Seed(ctx context.Context, store Upserter, inv Invalidator, inputs []PolicyInput) (int, error) {
	for i, in := range inputs {
		if err := store.UpsertPolicy(ctx, in); err != nil {
			return i, err
		}
		if inv != nil {
			if err := inv.Invalidate(ctx, in.ID, in.TenantID); err != nil {
				return i + 1, err
			}
		}
	}
	return len(inputs), nil
}
