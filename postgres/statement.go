package postgres

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// BindStatement returns sql with each $n placeholder replaced by args[n-1]
// rendered as a SQL literal. Placeholders inside quoted strings, quoted
// identifiers and comments are left alone, as are placeholders without a
// matching argument. The result is meant for logs, not for execution.
func BindStatement(sql string, args []any) string {
	if len(args) == 0 {
		return sql
	}

	var b strings.Builder

	b.Grow(len(sql) + 16*len(args))

	for i := 0; i < len(sql); {
		ch := sql[i]

		switch {
		case ch == '\'' || ch == '"':
			end := skipQuoted(sql, i, ch)
			b.WriteString(sql[i:end])
			i = end
		case ch == '-' && strings.HasPrefix(sql[i:], "--"):
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				end = len(sql) - i
			}

			b.WriteString(sql[i : i+end])
			i += end
		case ch == '/' && strings.HasPrefix(sql[i:], "/*"):
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				end = len(sql) - i
			} else {
				end += 4
			}

			b.WriteString(sql[i : i+end])
			i += end
		case ch == '$':
			j := i + 1
			for j < len(sql) && sql[j] >= '0' && sql[j] <= '9' {
				j++
			}

			n, err := strconv.Atoi(sql[i+1 : j])
			if err != nil || n < 1 || n > len(args) {
				b.WriteString(sql[i:j])
				i = max(j, i+1)

				continue
			}

			b.WriteString(literal(args[n-1]))
			i = j
		default:
			b.WriteByte(ch)
			i++
		}
	}

	return b.String()
}

func skipQuoted(sql string, start int, quote byte) int {
	for i := start + 1; i < len(sql); i++ {
		if sql[i] != quote {
			continue
		}

		// A doubled quote is an escaped quote.
		if i+1 < len(sql) && sql[i+1] == quote {
			i++
			continue
		}

		return i + 1
	}

	return len(sql)
}

func literal(arg any) string {
	switch v := arg.(type) {
	case nil:
		return "NULL"
	case string:
		return quoteString(v)
	case []byte:
		if v == nil {
			return "NULL"
		}

		return `'\x` + hex.EncodeToString(v) + `'`
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.FormatInt(int64(v), 10)
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint8:
		return strconv.FormatUint(uint64(v), 10)
	case uint16:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		return quoteString(v.Format(time.RFC3339Nano))
	case pgtype.Hstore:
		return quoteString(formatHstore(v))
	case driver.Valuer:
		val, err := v.Value()
		if err != nil {
			return quoteString(fmt.Sprint(arg))
		}

		if _, ok := val.(driver.Valuer); ok {
			return quoteString(fmt.Sprint(val))
		}

		return literal(val)
	case fmt.Stringer:
		return quoteString(v.String())
	default:
		return quoteString(fmt.Sprint(v))
	}
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// formatHstore renders h in hstore input syntax with keys sorted.
func formatHstore(h pgtype.Hstore) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))

	for _, k := range keys {
		v := "NULL"
		if h[k] != nil {
			v = quoteHstore(*h[k])
		}

		pairs = append(pairs, quoteHstore(k)+"=>"+v)
	}

	return strings.Join(pairs, ",")
}

var hstoreEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func quoteHstore(s string) string {
	return `"` + hstoreEscaper.Replace(s) + `"`
}
