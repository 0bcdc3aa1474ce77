package cli

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"creditos/internal/log"
)

func TestSetupLogger(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	logger := SetupLogger(log.ComponentWorker)
	if logger.Component() != log.ComponentWorker {
		t.Errorf("component = %s, want %s", logger.Component(), log.ComponentWorker)
	}
	if !logger.Slog().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("LOG_LEVEL=debug must enable debug logs")
	}
}

func TestSetupLoggerDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	logger := SetupLogger("")
	if logger.Component() != log.ComponentApp {
		t.Errorf("component = %s, want %s", logger.Component(), log.ComponentApp)
	}
	if logger.Slog().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("default level must be info")
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("CREDITOS_TEST_VAR=desde_env\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CREDITOS_TEST_VAR", "")
	os.Unsetenv("CREDITOS_TEST_VAR")

	LoadEnvFile()
	if got := os.Getenv("CREDITOS_TEST_VAR"); got != "desde_env" {
		t.Errorf("CREDITOS_TEST_VAR = %q, want value from .env", got)
	}
}

func TestInitSQLite(t *testing.T) {
	logger := log.New(log.Config{Handler: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})})
	repo := InitSQLite(logger, filepath.Join(t.TempDir(), "nested", "mirror.db"))
	defer repo.Close()
	if err := repo.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
