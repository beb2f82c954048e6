package pgscope

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/netip"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pgscope/pgscope/internal/sqlident"
)

// Query executes the full arbitration pipeline and returns only QueryOutput.
// All errors (rate-limit denials, read-only rejections, session-gate
// denials, pool saturation, Postgres errors) are converted to output.Error
// and annotated with a recovery prompt when a guidance rule matches. Callers
// only need to check output.Error, never a Go error.
//
// The pipeline order matters: the cheap checks run before a connection is
// leased, so a rejected call never consumes pool capacity.
func (p *PgScope) Query(ctx context.Context, input QueryInput) *QueryOutput {
	startTime := time.Now()
	sql := input.SQL
	clientID := identityOrDefault(input.ClientID)
	sessionID := identityOrDefault(input.SessionID)

	// 1. Rate limit (one token per call, charged even for rejected queries)
	if err := p.governor.Allow(clientID); err != nil {
		return p.handleError(err)
	}

	// 2. Check SQL length before any parsing
	if len(sql) > p.config.Query.MaxSQLLength {
		return p.handleError(fmt.Errorf("SQL query too long: %d bytes exceeds maximum of %d bytes", len(sql), p.config.Query.MaxSQLLength))
	}

	// 3. Read-only statement check
	if err := p.guard.Check(sql); err != nil {
		return p.handleError(err)
	}

	// 4. Session gate: every referenced table must have been described first
	tables, err := sqlident.ReferencedTables(sql)
	if err != nil {
		return p.handleError(err)
	}
	if err := p.tracker.ValidateQuery(sessionID, tables); err != nil {
		return p.handleError(err)
	}

	// 5. Determine timeout
	timeout, timeoutRule := p.timeoutMgr.Resolve(sql)
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// 6. Lease a connection and execute
	lease, err := p.acquire(queryCtx, clientID)
	if err != nil {
		return p.handleError(err)
	}
	conn := lease.Value()

	rows, err := conn.Query(queryCtx, sql)
	if err != nil {
		p.releaseLease(lease)
		return p.handleError(err)
	}

	// 7. Collect results
	result, err := collectRows(rows)
	p.releaseLease(lease)
	if err != nil {
		return p.handleError(err)
	}

	// 8. Apply redaction (per-field, recursive into JSONB/arrays)
	redacted := p.redactor.Active()
	result.Rows = p.redactor.Rows(result.Rows)

	// 9. Apply max result length truncation
	p.truncateIfNeeded(result)

	logEvent := p.logger.Info().
		Str("sql", truncateForLog(sql, 200)).
		Str("client_id", clientID).
		Str("session_id", sessionID).
		Dur("duration", time.Since(startTime)).
		Int("row_count", result.RowCount)
	if timeoutRule != "" {
		logEvent = logEvent.Str("timeout_rule", timeoutRule)
	}
	if redacted {
		logEvent = logEvent.Bool("redacted", true)
	}
	logEvent.Msg("query executed")

	return result
}

// collectRows reads all rows from pgx.Rows and returns a QueryOutput.
func collectRows(rows pgx.Rows) (*QueryOutput, error) {
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = fd.Name
	}

	resultRows := make([]map[string]interface{}, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = convertValue(values[i])
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &QueryOutput{Columns: columns, Rows: resultRows, RowCount: len(resultRows)}, nil
}

// convertValue converts a pgx-returned value to a JSON-friendly Go type.
func convertValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case float32:
		return convertFloat(float64(val))
	case float64:
		return convertFloat(val)
	case netip.Prefix:
		return val.String()
	case net.HardwareAddr:
		return val.String()
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		if val.NaN {
			return "NaN"
		}
		if val.InfinityModifier == pgtype.Infinity {
			return "Infinity"
		}
		if val.InfinityModifier == pgtype.NegativeInfinity {
			return "-Infinity"
		}
		b, err := val.MarshalJSON()
		if err != nil {
			return nil
		}
		return string(b)
	case pgtype.Time:
		if !val.Valid {
			return nil
		}
		us := val.Microseconds
		hours := us / 3_600_000_000
		us -= hours * 3_600_000_000
		minutes := us / 60_000_000
		us -= minutes * 60_000_000
		seconds := us / 1_000_000
		us -= seconds * 1_000_000
		if us > 0 {
			return fmt.Sprintf("%02d:%02d:%02d.%06d", hours, minutes, seconds, us)
		}
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	case pgtype.Interval:
		if !val.Valid {
			return nil
		}
		parts := []string{}
		if val.Months != 0 {
			years := val.Months / 12
			months := val.Months % 12
			if years != 0 {
				parts = append(parts, fmt.Sprintf("%d year(s)", years))
			}
			if months != 0 {
				parts = append(parts, fmt.Sprintf("%d mon(s)", months))
			}
		}
		if val.Days != 0 {
			parts = append(parts, fmt.Sprintf("%d day(s)", val.Days))
		}
		if val.Microseconds != 0 {
			dur := time.Duration(val.Microseconds) * time.Microsecond
			parts = append(parts, dur.String())
		}
		if len(parts) == 0 {
			return "0"
		}
		return strings.Join(parts, " ")
	case [16]byte:
		// UUID
		return fmt.Sprintf("%x-%x-%x-%x-%x", val[0:4], val[4:6], val[6:8], val[8:10], val[10:16])
	case []byte:
		// bytea, xml
		return base64.StdEncoding.EncodeToString(val)
	case string:
		return val
	case map[string]interface{}:
		result := make(map[string]interface{}, len(val))
		for k, v := range val {
			result[k] = convertValue(v)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(val))
		for i, v := range val {
			result[i] = convertValue(v)
		}
		return result
	default:
		return val
	}
}

func convertFloat(f float64) interface{} {
	if math.IsNaN(f) {
		return "NaN"
	}
	if math.IsInf(f, 1) {
		return "Infinity"
	}
	if math.IsInf(f, -1) {
		return "-Infinity"
	}
	return f
}

// handleError converts any error into a QueryOutput with error message.
// The message is evaluated against guidance rules and the first matching
// recovery prompt is appended.
func (p *PgScope) handleError(err error) *QueryOutput {
	errMsg := err.Error()
	pattern := p.guidance.MatchedPattern(errMsg)

	logEvent := p.logger.Error().Err(err)
	if pattern != "" {
		logEvent = logEvent.Str("guidance", pattern)
	}
	logEvent.Msg("query error")

	return &QueryOutput{Error: p.guidance.Annotate(errMsg)}
}

// truncateIfNeeded truncates query output rows if they exceed
// MaxResultLength (in characters).
func (p *PgScope) truncateIfNeeded(output *QueryOutput) {
	jsonBytes, err := json.Marshal(output.Rows)
	if err != nil {
		// Rows come from convertValue, which only emits JSON-safe types, so
		// this indicates a conversion bug. Leave the output untouched.
		p.logger.Error().Err(err).Msg("failed to measure result size for truncation")
		return
	}
	jsonStr := string(jsonBytes)
	if utf8.RuneCountInString(jsonStr) <= p.config.Query.MaxResultLength {
		return
	}
	runes := []rune(jsonStr)
	truncated := string(runes[:p.config.Query.MaxResultLength])
	output.Rows = nil
	output.Error = truncated + "...[truncated] Result is too long! Add limits in your query!"
}

// truncateForLog truncates a string for log output to avoid oversized log entries.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncateAt := maxLen
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	return s[:truncateAt] + "...[truncated]"
}
