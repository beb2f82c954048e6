package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pgscope "github.com/pgscope/pgscope"
)

// validServerConfig returns a minimal valid ServerConfig for testing.
func validServerConfig() pgscope.ServerConfig {
	return pgscope.ServerConfig{
		Config: pgscope.Config{
			Pool: pgscope.PoolConfig{MaxConns: 5, MaxQueue: 10},
			Query: pgscope.QueryConfig{
				DefaultTimeoutSeconds:       30,
				ListTablesTimeoutSeconds:    10,
				ListSchemasTimeoutSeconds:   10,
				DescribeTableTimeoutSeconds: 10,
			},
		},
		Server: pgscope.ServerSettings{
			Transport: "http",
			Port:      8080,
		},
		Connection: pgscope.ConnectionConfig{
			Host:   "localhost",
			Port:   5432,
			DBName: "testdb",
		},
	}
}

func writeConfigFile(t *testing.T, dir string, config pgscope.ServerConfig) string {
	t.Helper()
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal config: %v", err)
	}
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

// Note: Tests using t.Setenv() cannot use t.Parallel() in Go.

func TestLoadConfigValid(t *testing.T) {
	dir := t.TempDir()
	cfg := validServerConfig()
	path := writeConfigFile(t, dir, cfg)

	t.Setenv("PGSCOPE_CONFIG_PATH", path)

	loaded, err := loadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Server.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", loaded.Server.Port)
	}
	if loaded.Server.Transport != "http" {
		t.Fatalf("expected transport http, got %q", loaded.Server.Transport)
	}
	if loaded.Pool.MaxConns != 5 {
		t.Fatalf("expected max_conns 5, got %d", loaded.Pool.MaxConns)
	}
	if loaded.Query.DefaultTimeoutSeconds != 30 {
		t.Fatalf("expected default_timeout_seconds 30, got %d", loaded.Query.DefaultTimeoutSeconds)
	}
	if loaded.Connection.DBName != "testdb" {
		t.Fatalf("expected dbname 'testdb', got %q", loaded.Connection.DBName)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("PGSCOPE_CONFIG_PATH", filepath.Join(t.TempDir(), "nope.json"))
	if _, err := loadServerConfig(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv("PGSCOPE_CONFIG_PATH", path)
	if _, err := loadServerConfig(); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestBuildConnString(t *testing.T) {
	conn := pgscope.ConnectionConfig{
		Host:    "db.internal",
		Port:    5433,
		DBName:  "orders",
		SSLMode: "require",
	}
	got := buildConnString(conn, "alice", "s3cret")
	want := "host=db.internal port=5433 dbname=orders user=alice password=s3cret sslmode=require"
	if got != want {
		t.Errorf("buildConnString = %q, want %q", got, want)
	}
}

func TestBuildConnStringOmitsEmptyParts(t *testing.T) {
	got := buildConnString(pgscope.ConnectionConfig{DBName: "orders"}, "", "")
	if got != "dbname=orders" {
		t.Errorf("buildConnString = %q, want %q", got, "dbname=orders")
	}
	if strings.Contains(got, "password") {
		t.Errorf("empty password leaked into conn string: %q", got)
	}
}

func TestSetupLoggerLevels(t *testing.T) {
	tests := []struct {
		level string
		want  string
	}{
		{"debug", "debug"},
		{"info", "info"},
		{"warn", "warn"},
		{"error", "error"},
		{"unknown", "info"},
		{"", "info"},
	}
	for _, tt := range tests {
		logger := setupLogger(pgscope.LoggingConfig{Level: tt.level})
		if got := logger.GetLevel().String(); got != tt.want {
			t.Errorf("setupLogger(%q) level = %q, want %q", tt.level, got, tt.want)
		}
	}
}
