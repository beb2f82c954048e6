package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/term"

	pgscope "github.com/pgscope/pgscope"
)

func runDoctor() error {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	configPath := fs.String("config", ".pgscope/config.json", "Path to configuration file")
	skipDB := fs.Bool("skip-db", false, "Skip the live database connectivity check")
	fs.Parse(os.Args[2:])

	useColor := term.IsTerminal(int(os.Stderr.Fd()))
	return doctor(os.Stderr, useColor, *configPath, *skipDB)
}

func doctor(w io.Writer, useColor bool, configPath string, skipDB bool) error {
	fmt.Fprintf(w, "pgscope %s\n\n", serverVersion)

	config, ok := doctorValidateConfig(w, useColor, configPath)
	if !ok {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Fix the issues above and run 'pgscope doctor' again.")
		return nil
	}

	if !skipDB {
		fmt.Fprintln(w)
		doctorCheckDatabase(w, useColor, config)
	}
	return nil
}

// doctorValidateConfig loads and validates the config file, printing check
// results. Returns the parsed config and true if all checks passed.
func doctorValidateConfig(w io.Writer, useColor bool, configPath string) (*pgscope.ServerConfig, bool) {
	allPassed := true

	data, err := os.ReadFile(configPath)
	if err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Config file readable (%s)", configPath))
		return nil, false
	}
	printCheck(w, useColor, true, fmt.Sprintf("Config file readable (%s)", configPath))

	var config pgscope.ServerConfig
	if err := json.Unmarshal(data, &config); err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Config file is valid JSON: %v", err))
		return nil, false
	}
	printCheck(w, useColor, true, "Config file is valid JSON")

	if config.Pool.MaxConns <= 0 {
		printCheck(w, useColor, false, "pool.max_conns is > 0")
		allPassed = false
	} else {
		printCheck(w, useColor, true, fmt.Sprintf("pool.max_conns is > 0 (%d)", config.Pool.MaxConns))
	}

	transport := config.Server.Transport
	if transport == "" {
		transport = "stdio"
	}
	if transport != "stdio" && transport != "http" {
		printCheck(w, useColor, false, fmt.Sprintf("server.transport is stdio or http (%q)", config.Server.Transport))
		allPassed = false
	} else {
		printCheck(w, useColor, true, fmt.Sprintf("server.transport is valid (%s)", transport))
	}

	if transport == "http" && config.Server.Port <= 0 {
		printCheck(w, useColor, false, "server.port is > 0 (required for http transport)")
		allPassed = false
	}

	if config.Server.HealthCheckEnabled && config.Server.HealthCheckPath == "" {
		printCheck(w, useColor, false, "health_check_path is set (required when health_check_enabled)")
		allPassed = false
	}

	regexOK := true
	for i, rule := range config.Guidance {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			printCheck(w, useColor, false, fmt.Sprintf("guidance[%d] regex compiles: %v", i, err))
			regexOK = false
			allPassed = false
		}
	}
	for i, rule := range config.Redaction {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			printCheck(w, useColor, false, fmt.Sprintf("redaction[%d] regex compiles: %v", i, err))
			regexOK = false
			allPassed = false
		}
	}
	for i, rule := range config.Query.TimeoutRules {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			printCheck(w, useColor, false, fmt.Sprintf("timeout_rules[%d] regex compiles: %v", i, err))
			regexOK = false
			allPassed = false
		}
	}
	if regexOK {
		printCheck(w, useColor, true, "All regex patterns compile")
	}

	return &config, allPassed
}

// doctorCheckDatabase connects directly with pgx and reports server version
// and read-only status. Requires PGSCOPE_PG_CONNSTRING.
func doctorCheckDatabase(w io.Writer, useColor bool, config *pgscope.ServerConfig) {
	connString := os.Getenv("PGSCOPE_PG_CONNSTRING")
	if connString == "" {
		printCheck(w, useColor, false, "PGSCOPE_PG_CONNSTRING is set (skipping connectivity check)")
		return
	}
	printCheck(w, useColor, true, "PGSCOPE_PG_CONNSTRING is set")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Database reachable: %v", err))
		return
	}
	defer conn.Close(ctx)
	printCheck(w, useColor, true, "Database reachable")

	var version string
	if err := conn.QueryRow(ctx, "SELECT version()").Scan(&version); err == nil {
		printCheck(w, useColor, true, fmt.Sprintf("Server version: %s", version))
	}

	var readOnly string
	if err := conn.QueryRow(ctx, "SHOW transaction_read_only").Scan(&readOnly); err == nil {
		if config.ReadOnly && readOnly == "off" {
			printCheck(w, useColor, true, "read_only is enforced per connection (SET default_transaction_read_only)")
		} else {
			printCheck(w, useColor, true, fmt.Sprintf("transaction_read_only = %s", readOnly))
		}
	}

	var tableCount int
	countSQL := `SELECT count(*) FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('r', 'v', 'm', 'f', 'p')
  AND n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')`
	if err := conn.QueryRow(ctx, countSQL).Scan(&tableCount); err == nil {
		printCheck(w, useColor, true, fmt.Sprintf("Visible tables/views: %d", tableCount))
	}
}

// printCheck prints a colored ✓ or ✗ check line.
func printCheck(w io.Writer, useColor bool, pass bool, msg string) {
	mark, color := "✓", "\033[32m"
	if !pass {
		mark, color = "✗", "\033[31m"
	}
	if useColor {
		fmt.Fprintf(w, "  %s%s\033[0m %s\n", color, mark, msg)
	} else {
		fmt.Fprintf(w, "  %s %s\n", mark, msg)
	}
}
