package reconcilesubscriptions

import "time"

type Config struct {
	Timeout time.Duration
	// Tenants swept when the job does not name any.
	Tenants []string
}

func LoadConfig(timeout time.Duration, tenants []string) *Config {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Config{Timeout: timeout, Tenants: tenants}
}
