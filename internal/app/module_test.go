package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/fx"

	"github.com/chatarc/chatarc/internal/account"
	"github.com/chatarc/chatarc/internal/bus"
	"github.com/chatarc/chatarc/internal/config"
	"github.com/chatarc/chatarc/internal/export"
	"github.com/chatarc/chatarc/internal/lock"
)

// TestModuleWiring verifies the fx graph resolves and the lifecycle hooks
// manage the state lock. HOME is redirected so the state dir lands in the
// test sandbox.
func TestModuleWiring(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	root := filepath.Join(home, "acct")
	if err := os.MkdirAll(filepath.Join(root, "db"), 0755); err != nil {
		t.Fatal(err)
	}

	var (
		cfg *config.Config
		mgr *export.Manager
		b   *bus.Bus
	)
	fxApp := fx.New(
		Module(Params{AccountRoot: root, AccountID: "me"}),
		fx.Populate(&cfg, &mgr, &b),
		fx.NopLogger,
	)
	if err := fxApp.Start(context.Background()); err != nil {
		t.Fatalf("fx start: %v", err)
	}

	if cfg == nil || mgr == nil || b == nil {
		t.Fatal("populate left nil components")
	}
	if _, err := os.Stat(account.HistoryDBPath()); err != nil {
		t.Errorf("history store not created: %v", err)
	}
	if _, err := lock.Acquire(account.StateDir()); err == nil {
		t.Error("state lock not held while app is running")
	}

	if err := fxApp.Stop(context.Background()); err != nil {
		t.Fatalf("fx stop: %v", err)
	}
	lk, err := lock.Acquire(account.StateDir())
	if err != nil {
		t.Fatalf("lock still held after stop: %v", err)
	}
	_ = lk.Release()
}

// TestModuleMissingAccount verifies a bad account root surfaces as a start
// error instead of a half-wired app.
func TestModuleMissingAccount(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	fxApp := fx.New(
		Module(Params{AccountRoot: filepath.Join(home, "nope")}),
		fx.NopLogger,
	)
	err := fxApp.Start(context.Background())
	if err == nil {
		_ = fxApp.Stop(context.Background())
		t.Fatal("expected start error for missing account root")
	}
}
