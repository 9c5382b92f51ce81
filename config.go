package auth

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

// Config carries the reconciler's tunables. Zero values are filled in by
// Normalize; Validate rejects configurations that would spin or never retry.
type Config struct {
	// AppID identifies the embedding application; it seeds the identity
	// cache key so two apps sharing a storage medium do not read each
	// other's cached identity.
	AppID string

	// RetryInterval is the fixed wait between failed secondary
	// authentication attempts.
	RetryInterval time.Duration

	// NavigationRecheck is how often a paused reconciler re-checks the
	// connection state while the embedding app reports navigation in
	// progress.
	NavigationRecheck time.Duration

	// ReadyPollInterval is how often the reconciler polls the bridge while
	// waiting for the readiness handshake.
	ReadyPollInterval time.Duration

	// CacheTTL bounds how long a cached secondary identity may seed state.
	CacheTTL time.Duration

	// IdentityPrefix is the prefix a secondary user id must carry to be
	// considered structurally valid.
	IdentityPrefix string
}

// DefaultConfig mirrors the intervals the hosted SDK ships with.
func DefaultConfig() Config {
	return Config{
		AppID:             "universe",
		RetryInterval:     15 * time.Second,
		NavigationRecheck: 5 * time.Second,
		ReadyPollInterval: time.Second,
		CacheTTL:          6 * time.Hour,
		IdentityPrefix:    "cdu:",
	}
}

// Normalize fills unset fields from DefaultConfig.
func (c Config) Normalize() Config {
	def := DefaultConfig()
	if c.AppID == "" {
		c.AppID = def.AppID
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = def.RetryInterval
	}
	if c.NavigationRecheck <= 0 {
		c.NavigationRecheck = def.NavigationRecheck
	}
	if c.ReadyPollInterval <= 0 {
		c.ReadyPollInterval = def.ReadyPollInterval
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = def.CacheTTL
	}
	if c.IdentityPrefix == "" {
		c.IdentityPrefix = def.IdentityPrefix
	}
	return c
}

// Validate checks the configuration after normalization.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.AppID, validation.Required, validation.Length(1, 200)),
		validation.Field(&c.RetryInterval, validation.Required, validation.Min(10*time.Millisecond)),
		validation.Field(&c.NavigationRecheck, validation.Required, validation.Min(10*time.Millisecond)),
		validation.Field(&c.ReadyPollInterval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.CacheTTL, validation.Required, validation.Min(time.Minute)),
	)
}
