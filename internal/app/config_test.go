package app

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/medipanel/medigate/internal/credstore"
	"github.com/medipanel/medigate/internal/pipeline"
)

func TestApplyDefaults(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default failed: %v", err)
	}

	if cfg.LogFormat != LogFormatText {
		t.Errorf("LogFormat = %q, want text", cfg.LogFormat)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 4600 {
		t.Errorf("server defaults = %s:%d, want 127.0.0.1:4600", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Shutdown.Timeout != 5*time.Second {
		t.Errorf("shutdown timeout = %s, want 5s", cfg.Shutdown.Timeout)
	}
	if cfg.Upstream.BaseURL != DefaultConfigUpstreamBaseURL {
		t.Errorf("upstream = %q, want %q", cfg.Upstream.BaseURL, DefaultConfigUpstreamBaseURL)
	}
	if cfg.Auth.Storage != SessionStorageFile {
		t.Errorf("storage = %q, want file", cfg.Auth.Storage)
	}
	if cfg.Auth.RefreshLeadTime != pipeline.DefaultLeadTime {
		t.Errorf("refresh lead time = %s, want %s", cfg.Auth.RefreshLeadTime, pipeline.DefaultLeadTime)
	}
	if cfg.Auth.RequestTimeout != pipeline.DefaultRequestTimeout {
		t.Errorf("request timeout = %s, want %s", cfg.Auth.RequestTimeout, pipeline.DefaultRequestTimeout)
	}
	if !strings.HasSuffix(cfg.Auth.File, filepath.Join("medigate", "session")) {
		t.Errorf("session file = %q, want it under the medigate config dir", cfg.Auth.File)
	}
	if cfg.Auth.DeviceFile != filepath.Join(filepath.Dir(cfg.Auth.File), "device") {
		t.Errorf("device file = %q, want it beside the session file", cfg.Auth.DeviceFile)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaulted config failed validation: %v", err)
	}
}

func TestApplyDefaultsRedis(t *testing.T) {
	cfg := &Config{Auth: AuthConfig{Storage: SessionStorageRedis}}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults failed: %v", err)
	}

	if cfg.Auth.RedisAddr != DefaultConfigRedisAddr {
		t.Errorf("redis addr = %q, want %q", cfg.Auth.RedisAddr, DefaultConfigRedisAddr)
	}
	if cfg.Auth.RedisKey != DefaultConfigRedisKey {
		t.Errorf("redis key = %q, want %q", cfg.Auth.RedisKey, DefaultConfigRedisKey)
	}
	if cfg.Auth.DeviceFile != "" {
		t.Errorf("device file = %q, want none for shared redis storage", cfg.Auth.DeviceFile)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown storage", func(c *Config) { c.Auth.Storage = "vault" }},
		{"unknown log format", func(c *Config) { c.LogFormat = "yaml" }},
		{"missing upstream", func(c *Config) { c.Upstream.BaseURL = "" }},
		{"relative upstream", func(c *Config) { c.Upstream.BaseURL = "api.medipanel.app" }},
		{"missing session file", func(c *Config) { c.Auth.File = "" }},
		{"negative lead time", func(c *Config) { c.Auth.RefreshLeadTime = -time.Minute }},
		{"zero request timeout", func(c *Config) { c.Auth.RequestTimeout = 0 }},
		{"keyring without user", func(c *Config) {
			c.Auth.Storage = SessionStorageKeyring
			c.Auth.KeyringUser = ""
		}},
		{"redis without addr", func(c *Config) {
			c.Auth.Storage = SessionStorageRedis
			c.Auth.RedisAddr = ""
			c.Auth.RedisKey = DefaultConfigRedisKey
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Default()
			if err != nil {
				t.Fatalf("Default failed: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted the config")
			}
		})
	}
}

func TestRoutesIncludeConfiguredPublicPaths(t *testing.T) {
	auth := AuthConfig{PublicRoutes: []string{"/public/*", "/v1/lookup/cities"}}
	routes := auth.Routes()

	want := []string{"/auth/login", "/auth/register", "/auth/refresh", "/public/*", "/v1/lookup/cities"}
	if len(routes.Public) != len(want) {
		t.Fatalf("public routes = %v, want %v", routes.Public, want)
	}
	for i, pattern := range want {
		if routes.Public[i] != pattern {
			t.Errorf("public[%d] = %q, want %q", i, routes.Public[i], pattern)
		}
	}
	if routes.Refresh != "/auth/refresh" {
		t.Errorf("refresh route = %q", routes.Refresh)
	}
}

func TestNewCredentialStoreMemory(t *testing.T) {
	auth := AuthConfig{Storage: SessionStorageMemory}
	store, err := auth.NewCredentialStore()
	if err != nil {
		t.Fatalf("NewCredentialStore failed: %v", err)
	}

	sess := credstore.Session{Token: oauth2.Token{AccessToken: "a", RefreshToken: "r"}}
	if err := store.Save(context.Background(), sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Token.AccessToken != "a" {
		t.Errorf("loaded access token = %q", loaded.Token.AccessToken)
	}
}

func TestNewCredentialStoreFileBindsDevice(t *testing.T) {
	dir := t.TempDir()
	auth := AuthConfig{
		Storage:    SessionStorageFile,
		File:       filepath.Join(dir, "session"),
		DeviceFile: filepath.Join(dir, "device"),
	}

	store, err := auth.NewCredentialStore()
	if err != nil {
		t.Fatalf("NewCredentialStore failed: %v", err)
	}

	sess := credstore.Session{Token: oauth2.Token{AccessToken: "a", RefreshToken: "r"}}
	if err := store.Save(context.Background(), sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.DeviceID == "" {
		t.Error("saved session carries no device identity")
	}

	// A second store over the same config resolves the same identity.
	again, err := auth.NewCredentialStore()
	if err != nil {
		t.Fatalf("NewCredentialStore (second) failed: %v", err)
	}
	if err := again.ValidateDeviceBinding(context.Background()); err != nil {
		t.Errorf("binding check failed for the same device: %v", err)
	}
}
