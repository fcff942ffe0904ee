package repository

import (
	"context"
	"strings"
	"testing"

	"github.com/hookline/hookline/internal/models"
)

func TestConfigCreateAndGet(t *testing.T) {
	repo := NewSQLiteConfigRepository(setupTestDB(t))
	ctx := context.Background()

	cfg := &models.WebhookConfig{
		Name:             "orders",
		TargetURL:        "https://example.com/hook",
		SecretEncrypted:  "ciphertext",
		Headers:          map[string]string{"X-Tenant": "acme"},
		Active:           true,
		MaxRetries:       5,
		BackoffStrategy:  models.BackoffExponential,
		InitialIntervalS: 2,
		BackoffFactor:    2.0,
		MaxIntervalS:     600,
		MaxAgeS:          86400,
	}
	if err := repo.Create(ctx, cfg); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if cfg.ID == "" {
		t.Fatal("Create should assign an ID")
	}

	got, err := repo.GetByID(ctx, cfg.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetByID returned nil")
	}
	if got.Name != "orders" || got.TargetURL != "https://example.com/hook" {
		t.Errorf("unexpected config: %+v", got)
	}
	if got.SecretEncrypted != "ciphertext" {
		t.Errorf("secret = %q", got.SecretEncrypted)
	}
	if got.Headers["X-Tenant"] != "acme" {
		t.Errorf("headers = %v", got.Headers)
	}
	if !got.Active {
		t.Error("config should be active")
	}
	if got.BackoffStrategy != models.BackoffExponential || got.MaxRetries != 5 {
		t.Errorf("retry policy = %+v", got)
	}
}

func TestConfigUniqueName(t *testing.T) {
	repo := NewSQLiteConfigRepository(setupTestDB(t))
	ctx := context.Background()

	first := &models.WebhookConfig{Name: "orders", TargetURL: "https://a.example.com", Active: true, BackoffStrategy: models.BackoffFixed}
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	dup := &models.WebhookConfig{Name: "orders", TargetURL: "https://b.example.com", Active: true, BackoffStrategy: models.BackoffFixed}
	err := repo.Create(ctx, dup)
	if err == nil {
		t.Fatal("duplicate name should be rejected")
	}
	if !strings.Contains(strings.ToLower(err.Error()), "unique") {
		t.Errorf("expected unique constraint error, got: %v", err)
	}
}

func TestConfigUpdate(t *testing.T) {
	repo := NewSQLiteConfigRepository(setupTestDB(t))
	ctx := context.Background()

	cfg := &models.WebhookConfig{Name: "orders", TargetURL: "https://a.example.com", Active: true, BackoffStrategy: models.BackoffFixed, MaxRetries: 3}
	if err := repo.Create(ctx, cfg); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	cfg.TargetURL = "https://b.example.com"
	cfg.MaxRetries = 7
	cfg.BackoffStrategy = models.BackoffLinear
	if err := repo.Update(ctx, cfg); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, _ := repo.GetByID(ctx, cfg.ID)
	if got.TargetURL != "https://b.example.com" || got.MaxRetries != 7 {
		t.Errorf("update not persisted: %+v", got)
	}
	if got.BackoffStrategy != models.BackoffLinear {
		t.Errorf("strategy = %q", got.BackoffStrategy)
	}
}

func TestConfigDeactivateAndActiveLookup(t *testing.T) {
	repo := NewSQLiteConfigRepository(setupTestDB(t))
	ctx := context.Background()

	cfg := &models.WebhookConfig{Name: "orders", TargetURL: "https://a.example.com", Active: true, BackoffStrategy: models.BackoffFixed}
	if err := repo.Create(ctx, cfg); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := repo.GetActiveByName(ctx, "orders")
	if err != nil {
		t.Fatalf("GetActiveByName failed: %v", err)
	}
	if got == nil {
		t.Fatal("active config should be visible")
	}

	if err := repo.Deactivate(ctx, cfg.ID); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}

	got, err = repo.GetActiveByName(ctx, "orders")
	if err != nil {
		t.Fatalf("GetActiveByName failed: %v", err)
	}
	if got != nil {
		t.Error("deactivated config must be invisible to active lookup")
	}

	// Plain name lookup still finds it.
	got, err = repo.GetByName(ctx, "orders")
	if err != nil {
		t.Fatalf("GetByName failed: %v", err)
	}
	if got == nil || got.Active {
		t.Errorf("GetByName after deactivate = %+v", got)
	}
}

func TestConfigGetMissing(t *testing.T) {
	repo := NewSQLiteConfigRepository(setupTestDB(t))
	ctx := context.Background()

	got, err := repo.GetByID(ctx, "nope")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing config")
	}

	got, err = repo.GetActiveByName(ctx, "nope")
	if err != nil {
		t.Fatalf("GetActiveByName failed: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing name")
	}
}

func TestConfigList(t *testing.T) {
	repo := NewSQLiteConfigRepository(setupTestDB(t))
	ctx := context.Background()

	for _, name := range []string{"orders", "invoices", "shipments"} {
		cfg := &models.WebhookConfig{Name: name, TargetURL: "https://example.com/" + name, Active: true, BackoffStrategy: models.BackoffFixed}
		if err := repo.Create(ctx, cfg); err != nil {
			t.Fatalf("Create(%s) failed: %v", name, err)
		}
	}

	got, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("List returned %d configs, want 3", len(got))
	}
}
