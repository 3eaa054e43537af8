package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORTAL_APP_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.LockoutThreshold != 5 || cfg.Auth.LockoutDuration != 15*time.Minute {
		t.Fatalf("unexpected lockout defaults %+v", cfg.Auth)
	}
	if cfg.Auth.DeviceLimit != 3 || !cfg.Auth.MFAOnlyLoginEnabled {
		t.Fatalf("unexpected login defaults %+v", cfg.Auth)
	}
	if cfg.MFA.Period != 30 || cfg.MFA.Skew != 1 || cfg.MFA.Digits != 6 {
		t.Fatalf("unexpected mfa defaults %+v", cfg.MFA)
	}
	if !cfg.Pruner.Enabled || cfg.Pruner.RetentionDays != 30 || cfg.Pruner.Interval != 24*time.Hour {
		t.Fatalf("unexpected pruner defaults %+v", cfg.Pruner)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORTAL_APP_ENV", "development")
	t.Setenv("PORTAL_AUTH_DEVICE_LIMIT", "5")
	t.Setenv("PRUNER_RETENTION_DAYS", "45")
	t.Setenv("PORTAL_AUTH_LOCKOUT_DURATION", "30m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.DeviceLimit != 5 {
		t.Fatalf("expected prefixed override, got %d", cfg.Auth.DeviceLimit)
	}
	if cfg.Pruner.RetentionDays != 45 {
		t.Fatalf("expected unprefixed override, got %d", cfg.Pruner.RetentionDays)
	}
	if cfg.Auth.LockoutDuration != 30*time.Minute {
		t.Fatalf("expected duration override, got %s", cfg.Auth.LockoutDuration)
	}
}

func TestLoadRequiresEncryptionKeyInProduction(t *testing.T) {
	t.Setenv("PORTAL_APP_ENV", "production")
	t.Setenv("PORTAL_ENCRYPTION_CURRENT_KEY", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "encryption.current_key") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := AppConfig{
		App:        AppSettings{Env: "production", Port: 8080},
		JWT:        JWTSettings{AccessTokenTTL: 15 * time.Minute},
		Auth:       AuthSettings{LockoutThreshold: 5, LockoutDuration: 15 * time.Minute, DeviceLimit: 3},
		MFA:        MFASettings{Period: 30, Digits: 6},
		Encryption: EncryptionSettings{CurrentKeyID: "k1", CurrentKey: "c2VjcmV0"},
		Pruner:     PrunerSettings{Enabled: true, RetentionDays: 30},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cases := map[string]func(*AppConfig){
		"device limit": func(c *AppConfig) { c.Auth.DeviceLimit = 0 },
		"threshold":    func(c *AppConfig) { c.Auth.LockoutThreshold = 0 },
		"digits":       func(c *AppConfig) { c.MFA.Digits = 7 },
		"retention":    func(c *AppConfig) { c.Pruner.RetentionDays = 0 },
		"purge window": func(c *AppConfig) { c.Pruner.PurgeAfterDays = 10 },
		"previous key": func(c *AppConfig) { c.Encryption.PreviousKey = "c2VjcmV0" },
		"port":         func(c *AppConfig) { c.App.Port = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadRejectsUnknownDegradationMode(t *testing.T) {
	t.Setenv("PORTAL_APP_ENV", "development")
	t.Setenv("PORTAL_AUTH_DEGRADATION_MODE", "panic")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "auth.degradation_mode") {
		t.Fatalf("expected degradation mode error, got %v", err)
	}
}
