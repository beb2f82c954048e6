package guard

import (
	"strings"
	"testing"
)

func TestAllowedStatements(t *testing.T) {
	c := NewChecker(Config{})

	allowed := []string{
		"SELECT * FROM users",
		"SELECT count(*) FROM orders WHERE total > 100",
		"WITH recent AS (SELECT * FROM orders) SELECT * FROM recent",
		"EXPLAIN SELECT * FROM users",
		"EXPLAIN (ANALYZE, BUFFERS) SELECT 1",
		"SHOW search_path",
	}
	for _, sql := range allowed {
		if err := c.Check(sql); err != nil {
			t.Errorf("Check(%q) rejected allowed statement: %v", sql, err)
		}
	}
}

func TestBlockedStatements(t *testing.T) {
	c := NewChecker(Config{})

	blocked := []string{
		"INSERT INTO users (name) VALUES ('x')",
		"UPDATE users SET name = 'x' WHERE id = 1",
		"DELETE FROM users WHERE id = 1",
		"DROP TABLE users",
		"TRUNCATE users",
		"CREATE TABLE foo (id int)",
		"ALTER TABLE users ADD COLUMN x int",
		"GRANT SELECT ON users TO bob",
		"COPY users TO '/tmp/out.csv'",
		"DO $$ BEGIN NULL; END $$",
		"SET search_path = public",
		"EXPLAIN DELETE FROM users",
		"SELECT 1; SELECT 2",
	}
	for _, sql := range blocked {
		if err := c.Check(sql); err == nil {
			t.Errorf("Check(%q) allowed a blocked statement", sql)
		}
	}
}

func TestAllowSet(t *testing.T) {
	c := NewChecker(Config{AllowSet: true})

	if err := c.Check("SET statement_timeout = 1000"); err != nil {
		t.Errorf("SET with AllowSet rejected: %v", err)
	}
	// Read-only setting stays protected even with AllowSet.
	if err := c.Check("SET transaction_read_only = off"); err == nil {
		t.Error("SET transaction_read_only allowed with AllowSet")
	}
}

func TestDangerousFunctionsBlocked(t *testing.T) {
	c := NewChecker(Config{})

	blocked := []string{
		"SELECT dblink_exec('host=evil', 'DROP TABLE users')",
		"SELECT pg_read_file('/etc/passwd')",
		"SELECT pg_terminate_backend(123)",
		"SELECT lo_import('/etc/shadow')",
	}
	for _, sql := range blocked {
		err := c.Check(sql)
		if err == nil {
			t.Errorf("Check(%q) allowed a dangerous function", sql)
			continue
		}
		if !strings.Contains(err.Error(), "forbidden function") {
			t.Errorf("Check(%q) error = %v, want forbidden-function error", sql, err)
		}
	}
}

func TestParseErrors(t *testing.T) {
	c := NewChecker(Config{})

	if err := c.Check(""); err == nil {
		t.Error("empty query allowed")
	}
	if err := c.Check("SELEKT * FORM users"); err == nil {
		t.Error("unparsable query allowed")
	}
}
