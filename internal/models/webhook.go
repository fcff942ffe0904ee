package models

import "time"

// BackoffStrategy selects how retry delays grow between attempts.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// WebhookConfig is a named delivery destination with its retry policy.
// Configs are read-mostly: created and updated through the management API,
// soft-deleted by setting Active=false. The secret is stored encrypted at
// rest and only decrypted when a payload needs signing.
type WebhookConfig struct {
	ID              string
	Name            string
	TargetURL       string
	SecretEncrypted string
	Headers         map[string]string
	Active          bool

	// Retry policy
	MaxRetries       int
	BackoffStrategy  BackoffStrategy
	InitialIntervalS int
	BackoffFactor    float64
	MaxIntervalS     int
	MaxAgeS          int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasSecret reports whether payloads for this config are signed.
func (c *WebhookConfig) HasSecret() bool {
	return c.SecretEncrypted != ""
}

// MaxAge returns the hard TTL for messages of this config.
func (c *WebhookConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeS) * time.Second
}
