package passcode

import (
	"errors"
	"time"
)

// Config defines a public type used by passcode APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Challenge ChallengeConfig
	Session   SessionConfig
	Delivery  DeliveryConfig
	Mail      MailConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
CHALLENGE CONFIG
====================================
*/

// ChallengeConfig defines a public type used by passcode APIs.
//
// ChallengeConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type ChallengeConfig struct {
	CodeLength   int
	ExpiryWindow time.Duration
	RedisPrefix  string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig defines a public type used by passcode APIs.
//
// SessionConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SessionConfig struct {
	SigningKey    []byte
	TTL           time.Duration
	RedisPrefix   string
	RotateOnLogin bool
	Issuer        string
	Leeway        time.Duration
}

/*
====================================
DELIVERY CONFIG
====================================
*/

// DeliveryConfig defines a public type used by passcode APIs.
//
// DeliveryConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type DeliveryConfig struct {
	Suppress bool
	Subject  string
}

// MailConfig carries SMTP transport settings. It is consumed only by the
// notifier; the engine itself never opens a mail connection.
type MailConfig struct {
	Host          string
	Port          int
	UseTLS        bool
	Username      string
	Password      string
	DefaultSender string
}

// AuditConfig defines a public type used by passcode APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by passcode APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig describes the defaultconfig operation and its observable behavior.
//
// DefaultConfig may return an error when input validation, dependency calls, or security checks fail.
// DefaultConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Challenge: ChallengeConfig{
			CodeLength:   6,
			ExpiryWindow: 10 * time.Minute,
			RedisPrefix:  "pc",
		},
		Session: SessionConfig{
			TTL:           24 * time.Hour,
			RedisPrefix:   "ps",
			RotateOnLogin: true,
			Leeway:        30 * time.Second,
		},
		Delivery: DeliveryConfig{
			Suppress: true,
			Subject:  "Your sign-in code",
		},
		Mail: MailConfig{
			Port: 587,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.SigningKey = cloneBytes(cfg.Session.SigningKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	// Challenge
	if c.Challenge.CodeLength < 4 || c.Challenge.CodeLength > 10 {
		return errors.New("Challenge CodeLength must be between 4 and 10")
	}
	if c.Challenge.ExpiryWindow <= 0 {
		return errors.New("Challenge ExpiryWindow must be > 0")
	}
	if c.Challenge.RedisPrefix == "" {
		return errors.New("Challenge RedisPrefix is required")
	}

	// Session
	if len(c.Session.SigningKey) == 0 {
		return errors.New("Session SigningKey is required")
	}
	if len(c.Session.SigningKey) < 32 {
		return errors.New("Session SigningKey must be >= 256 bits")
	}
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix is required")
	}
	if c.Session.Leeway < 0 || c.Session.Leeway > 2*time.Minute {
		return errors.New("Session Leeway must be between 0 and 2m")
	}

	// Delivery
	if !c.Delivery.Suppress {
		if c.Mail.Host == "" {
			return errors.New("Mail Host is required when delivery is not suppressed")
		}
		if c.Mail.Port <= 0 || c.Mail.Port > 65535 {
			return errors.New("Mail Port must be between 1 and 65535")
		}
		if c.Mail.DefaultSender == "" {
			return errors.New("Mail DefaultSender is required when delivery is not suppressed")
		}
	}

	// Audit
	if c.Audit.Enabled {
		if c.Audit.BufferSize <= 0 {
			return errors.New("Audit BufferSize must be > 0 when audit is enabled")
		}
	}

	return nil
}
