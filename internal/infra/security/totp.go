package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/muniportal/portal-auth/internal/core/port"
)

// TOTPConfig controls code generation and the accepted verification window.
type TOTPConfig struct {
	Issuer string
	Period uint
	Skew   uint
	Digits int
}

// TOTPEngine provisions RFC 6238 secrets and validates codes.
type TOTPEngine struct {
	cfg TOTPConfig
}

// NewTOTPEngine applies defaults (30s period, ±1 step, 6 digits) to cfg.
func NewTOTPEngine(cfg TOTPConfig) *TOTPEngine {
	if cfg.Period == 0 {
		cfg.Period = 30
	}
	if cfg.Digits != 8 {
		cfg.Digits = 6
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		cfg.Issuer = "Municipal Portal"
	}
	return &TOTPEngine{cfg: cfg}
}

// Generate creates a new base32 secret and the otpauth URL for authenticator apps.
func (e *TOTPEngine) Generate(accountName string) (port.TOTPKey, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.cfg.Issuer,
		AccountName: accountName,
		Period:      e.cfg.Period,
		Digits:      otp.Digits(e.cfg.Digits),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return port.TOTPKey{}, fmt.Errorf("totp: generate: %w", err)
	}
	return port.TOTPKey{Secret: key.Secret(), OTPAuthURL: key.URL()}, nil
}

// Validate checks code against secret at the supplied instant within the configured skew.
// Malformed codes are reported as invalid rather than as errors.
func (e *TOTPEngine) Validate(code, secret string, at time.Time) (bool, error) {
	code = strings.TrimSpace(code)
	if code == "" || secret == "" {
		return false, nil
	}

	ok, err := totp.ValidateCustom(code, secret, at.UTC(), e.validateOpts())
	if err != nil {
		if errors.Is(err, otp.ErrValidateInputInvalidLength) {
			return false, nil
		}
		return false, fmt.Errorf("totp: validate: %w", err)
	}
	return ok, nil
}

// Window returns how long an accepted code may be replayed within the skew tolerance.
func (e *TOTPEngine) Window() time.Duration {
	return time.Duration(2*e.cfg.Skew+1) * time.Duration(e.cfg.Period) * time.Second
}

func (e *TOTPEngine) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    e.cfg.Period,
		Skew:      e.cfg.Skew,
		Digits:    otp.Digits(e.cfg.Digits),
		Algorithm: otp.AlgorithmSHA1,
	}
}
