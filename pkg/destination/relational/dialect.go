package relational

import (
	"fmt"
	"strings"
)

// dialect isolates the handful of places Postgres and MySQL DDL/DML text
// diverge. Type inference and the batch-partitioning algorithm are shared;
// only statement synthesis goes through here.
type dialect interface {
	name() string
	quoteIdent(name string) string
	placeholder(pos int) string
	columnType(canonical string) string
	createTableSQL(table string, cols []columnDef) string
	addColumnSQL(table string, col columnDef) string
	upsertSQL(table string, cols []string, pk string, policy conflictPolicy) string
	deleteSQL(table string, pk string) string
	columnsQuery() string
}

type columnDef struct {
	name     string
	typ      string // canonical type token, see infer.go
	isPK     bool
	nullable bool
}

type postgresDialect struct{}

func (postgresDialect) name() string { return "postgres" }

func (postgresDialect) quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (postgresDialect) placeholder(pos int) string {
	return fmt.Sprintf("$%d", pos)
}

func (postgresDialect) columnType(canonical string) string {
	switch canonical {
	case typeInt8, typeInt16:
		return "SMALLINT"
	case typeInt32:
		return "INTEGER"
	case typeInt64:
		return "BIGINT"
	case typeFloat32:
		return "REAL"
	case typeFloat64:
		return "DOUBLE PRECISION"
	case typeBoolean:
		return "BOOLEAN"
	case typeBytes:
		return "BYTEA"
	case typeDate:
		return "DATE"
	case typeTime:
		return "TIME"
	case typeTimestamp:
		return "TIMESTAMP"
	case typeZonedTimestamp:
		return "TIMESTAMP WITH TIME ZONE"
	case typeDecimal:
		return "NUMERIC"
	case typeUUID:
		return "UUID"
	case typeJSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}

func (d postgresDialect) createTableSQL(table string, cols []columnDef) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", table)
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.quoteIdent(c.name))
		b.WriteString(" ")
		b.WriteString(d.columnType(c.typ))
		if c.isPK {
			b.WriteString(" PRIMARY KEY")
		} else if c.nullable {
			b.WriteString(" NULL")
		} else {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteString(")")
	return b.String()
}

func (d postgresDialect) addColumnSQL(table string, col columnDef) string {
	null := "NULL"
	if !col.nullable {
		null = "NOT NULL"
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s %s",
		table, d.quoteIdent(col.name), d.columnType(col.typ), null)
}

func (d postgresDialect) upsertSQL(table string, cols []string, pk string, policy conflictPolicy) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (", table)
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.quoteIdent(c))
	}
	b.WriteString(") VALUES (")
	for i := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.placeholder(i + 1))
	}
	b.WriteString(")")

	switch policy {
	case conflictIgnore:
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO NOTHING", d.quoteIdent(pk))
	case conflictReplace:
		// plain insert, no conflict clause: a colliding PK surfaces as a
		// constraint-violation error instead of being silently handled.
	case conflictUpsert:
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET ", d.quoteIdent(pk))
		first := true
		for _, c := range cols {
			if c == pk {
				continue
			}
			if !first {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s = EXCLUDED.%s", d.quoteIdent(c), d.quoteIdent(c))
			first = false
		}
	}
	return b.String()
}

func (d postgresDialect) deleteSQL(table string, pk string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = %s", table, d.quoteIdent(pk), d.placeholder(1))
}

func (postgresDialect) columnsQuery() string {
	return "SELECT column_name, data_type FROM information_schema.columns WHERE table_name = $1"
}

type mysqlDialect struct{}

func (mysqlDialect) name() string { return "mysql" }

func (mysqlDialect) quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (mysqlDialect) placeholder(int) string { return "?" }

func (mysqlDialect) columnType(canonical string) string {
	switch canonical {
	case typeInt8, typeInt16:
		return "SMALLINT"
	case typeInt32:
		return "INT"
	case typeInt64:
		return "BIGINT"
	case typeFloat32:
		return "FLOAT"
	case typeFloat64:
		return "DOUBLE"
	case typeBoolean:
		return "BOOLEAN"
	case typeBytes:
		return "BLOB"
	case typeDate:
		return "DATE"
	case typeTime:
		return "TIME"
	case typeTimestamp, typeZonedTimestamp:
		return "DATETIME"
	case typeDecimal:
		return "DECIMAL(38,10)"
	case typeUUID:
		return "CHAR(36)"
	case typeJSON:
		return "JSON"
	default:
		return "TEXT"
	}
}

func (d mysqlDialect) createTableSQL(table string, cols []columnDef) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", table)
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.quoteIdent(c.name))
		b.WriteString(" ")
		b.WriteString(d.columnType(c.typ))
		if c.isPK {
			b.WriteString(" PRIMARY KEY")
		} else if c.nullable {
			b.WriteString(" NULL")
		} else {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteString(")")
	return b.String()
}

func (d mysqlDialect) addColumnSQL(table string, col columnDef) string {
	null := "NULL"
	if !col.nullable {
		null = "NOT NULL"
	}
	// MySQL 8.0.29+ accepts the same IF NOT EXISTS gating as Postgres,
	// keeping concurrent ADD COLUMN races idempotent on both dialects.
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s %s", table, d.quoteIdent(col.name), d.columnType(col.typ), null)
}

func (d mysqlDialect) upsertSQL(table string, cols []string, pk string, policy conflictPolicy) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (", table)
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.quoteIdent(c))
	}
	b.WriteString(") VALUES (")
	for i := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("?")
	}
	b.WriteString(")")

	switch policy {
	case conflictIgnore:
		b.Reset()
		fmt.Fprintf(&b, "INSERT IGNORE INTO %s (", table)
		for i, c := range cols {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.quoteIdent(c))
		}
		b.WriteString(") VALUES (")
		for i := range cols {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
		}
		b.WriteString(")")
	case conflictReplace:
		// plain insert, no conflict clause: a colliding PK surfaces as a
		// duplicate-key error instead of being silently handled.
	case conflictUpsert:
		b.WriteString(" ON DUPLICATE KEY UPDATE ")
		first := true
		for _, c := range cols {
			if c == pk {
				continue
			}
			if !first {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s = VALUES(%s)", d.quoteIdent(c), d.quoteIdent(c))
			first = false
		}
	}
	return b.String()
}

func (d mysqlDialect) deleteSQL(table string, pk string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, d.quoteIdent(pk))
}

func (mysqlDialect) columnsQuery() string {
	return "SELECT column_name, data_type FROM information_schema.columns WHERE table_name = ?"
}
