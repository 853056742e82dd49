package config

import "sort"

// WebhookSecret returns the signing secret for events addressed to the given
// processor account. Unknown or empty accounts use the global secret.
func (c *Config) WebhookSecret(account string) string {
	if account != "" {
		for _, t := range c.Tenants {
			if t.PaymentAccount == account && t.WebhookSecret != "" {
				return t.WebhookSecret
			}
		}
	}
	return c.Webhook.SigningSecret
}

// TenantForAccount maps a processor account back to the tenant it is
// configured for.
func (c *Config) TenantForAccount(account string) (string, bool) {
	if account == "" {
		return "", false
	}
	for _, id := range c.TenantIDs() {
		if c.Tenants[id].PaymentAccount == account {
			return id, true
		}
	}
	return "", false
}

func (c *Config) PaymentAPIKey(tenantID string) string {
	if t, ok := c.Tenants[tenantID]; ok && t.PaymentAPIKey != "" {
		return t.PaymentAPIKey
	}
	return c.Payments.APIKey
}

func (c *Config) PaymentAccount(tenantID string) string {
	if t, ok := c.Tenants[tenantID]; ok {
		return t.PaymentAccount
	}
	return ""
}

// TenantIDs lists configured tenants in a stable order.
func (c *Config) TenantIDs() []string {
	ids := make([]string, 0, len(c.Tenants))
	for id := range c.Tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
