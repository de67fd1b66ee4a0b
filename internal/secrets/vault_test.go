package secrets

import (
	"context"
	"testing"
)

func TestDisabledVaultServesLocalStore(t *testing.T) {
	c, err := NewClient(Config{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	creds := Credentials{"user": "council", "password": "s3cret"}
	if err := c.Store(ctx, "postgres", creds); err != nil {
		t.Fatal(err)
	}

	got, err := c.Get(ctx, "postgres")
	if err != nil {
		t.Fatal(err)
	}
	if got["user"] != "council" || got["password"] != "s3cret" {
		t.Errorf("got %v", got)
	}
}

func TestDisabledVaultMissingSecret(t *testing.T) {
	c, _ := NewClient(Config{Enabled: false})
	if _, err := c.Get(context.Background(), "nope"); err == nil {
		t.Error("expected error for missing secret")
	}
}

func TestClearCacheDropsLocalValues(t *testing.T) {
	c, _ := NewClient(Config{Enabled: false})
	ctx := context.Background()
	c.Store(ctx, "redis", Credentials{"password": "x"})
	c.ClearCache()
	if _, err := c.Get(ctx, "redis"); err == nil {
		t.Error("expected miss after cache clear with vault disabled")
	}
}

func TestDisabledVaultHealthIsAlwaysOK(t *testing.T) {
	c, _ := NewClient(Config{Enabled: false})
	if err := c.Health(context.Background()); err != nil {
		t.Errorf("health = %v", err)
	}
}
