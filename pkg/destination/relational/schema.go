package relational

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cdcsink/cdcsink/pkg/model"
)

// metadataTable is the persistent mirror of the schema cache, kept so a
// restart doesn't need an information_schema round trip for the common path
// (spec §3 "Schema cache").
const metadataTable = "_cdc_schema_metadata"

// schemaCache is the per-sink, in-memory mapping table -> column -> canonical
// declared type, read-heavy and guarded by a reader-writer lock per spec §5
// ("Shared resources").
type schemaCache struct {
	mu     sync.RWMutex
	tables map[string]map[string]string
}

func newSchemaCache() *schemaCache {
	return &schemaCache{tables: make(map[string]map[string]string)}
}

func (c *schemaCache) columns(table string) (map[string]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cols, ok := c.tables[table]
	return cols, ok
}

func (c *schemaCache) set(table string, cols map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[table] = cols
}

func (c *schemaCache) addColumn(table, column, typ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cols, ok := c.tables[table]
	if !ok {
		cols = make(map[string]string)
		c.tables[table] = cols
	}
	cols[column] = typ
}

func (c *schemaCache) invalidate(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tables, table)
}

// ensureMetadataTable creates the _cdc_schema_metadata mirror table if it
// does not exist. The statement is idempotent so concurrent flows writing to
// the same database tolerate the creation race (spec §5).
func (s *Sink) ensureMetadataTable(ctx context.Context) error {
	stmt := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (schema_name %s, table_name %s, column_name %s, data_type %s, last_updated %s, PRIMARY KEY (schema_name, table_name, column_name))",
		s.dialect.quoteIdent(metadataTable),
		s.dialect.columnType(typeString),
		s.dialect.columnType(typeString),
		s.dialect.columnType(typeString),
		s.dialect.columnType(typeString),
		s.dialect.columnType(typeTimestamp),
	)
	_, err := s.db.ExecContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("relational: create metadata table: %w", err)
	}
	return nil
}

// mirrorColumn upserts one row of the _cdc_schema_metadata mirror, so a
// restart can rehydrate the schema cache without an information_schema scan.
// The mirror's primary key is composite (schema_name, table_name,
// column_name), so this builds its own ON CONFLICT/ON DUPLICATE KEY clause
// rather than reusing dialect.upsertSQL, which only targets a single column.
func (s *Sink) mirrorColumn(ctx context.Context, schemaName, table, column, declType string) error {
	q := s.dialect.quoteIdent
	table0 := q(metadataTable)
	cols := []string{"schema_name", "table_name", "column_name", "data_type", "last_updated"}

	var stmt string
	switch s.dialect.name() {
	case "postgres":
		stmt = fmt.Sprintf(
			"INSERT INTO %s (%s, %s, %s, %s, %s) VALUES ($1, $2, $3, $4, $5) "+
				"ON CONFLICT (%s, %s, %s) DO UPDATE SET %s = EXCLUDED.%s, %s = EXCLUDED.%s",
			table0, q(cols[0]), q(cols[1]), q(cols[2]), q(cols[3]), q(cols[4]),
			q(cols[0]), q(cols[1]), q(cols[2]),
			q(cols[3]), q(cols[3]), q(cols[4]), q(cols[4]),
		)
	default:
		stmt = fmt.Sprintf(
			"INSERT INTO %s (%s, %s, %s, %s, %s) VALUES (?, ?, ?, ?, ?) "+
				"ON DUPLICATE KEY UPDATE %s = VALUES(%s), %s = VALUES(%s)",
			table0, q(cols[0]), q(cols[1]), q(cols[2]), q(cols[3]), q(cols[4]),
			q(cols[3]), q(cols[3]), q(cols[4]), q(cols[4]),
		)
	}
	_, err := s.db.ExecContext(ctx, stmt, schemaName, table, column, declType, time.Now().UTC())
	return err
}

// reconcileSchema runs schema reconciliation for one table, using evidence
// from the batch's first record for that table (spec §4.E). It creates the
// table if absent, or widens it with ADD COLUMN when autoAddColumns is set
// and the incoming event carries a column the table doesn't have. Never
// drops columns or changes types.
func (s *Sink) reconcileSchema(ctx context.Context, table string, ev *model.ChangeEvent) error {
	existing, known := s.cache.columns(table)
	if !known {
		loaded, err := s.loadColumnsFromDB(ctx, table)
		if err != nil {
			return err
		}
		if len(loaded) > 0 {
			s.cache.set(table, loaded)
			existing = loaded
			known = true
		}
	}

	if !known || len(existing) == 0 {
		return s.createTable(ctx, table, ev)
	}

	if !s.autoAddColumns {
		return nil
	}

	for _, name := range ev.OrderedKeys() {
		if _, ok := columnLookup(existing, name); ok {
			continue
		}
		declType, nullable := columnSpec(ev, name)
		col := columnDef{name: name, typ: declType, nullable: nullable, isPK: isPrimaryKeyName(name)}
		stmt := s.dialect.addColumnSQL(s.qualify(table), col)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("relational: add column %s.%s: %w", table, name, err)
		}
		s.cache.addColumn(table, name, declType)
		if err := s.mirrorColumn(ctx, ev.Table.Schema, table, name, declType); err != nil {
			return fmt.Errorf("relational: mirror column %s.%s: %w", table, name, err)
		}
	}
	return nil
}

func (s *Sink) createTable(ctx context.Context, table string, ev *model.ChangeEvent) error {
	keys := ev.OrderedKeys()
	cols := make([]columnDef, 0, len(keys))
	cache := make(map[string]string, len(keys))
	for _, name := range keys {
		declType, nullable := columnSpec(ev, name)
		isPK := isPrimaryKeyName(name)
		cols = append(cols, columnDef{name: name, typ: declType, nullable: nullable, isPK: isPK})
		cache[name] = declType
	}

	stmt := s.dialect.createTableSQL(s.qualify(table), cols)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("relational: create table %s: %w", table, err)
	}
	s.cache.set(table, cache)

	for _, c := range cols {
		if err := s.mirrorColumn(ctx, ev.Table.Schema, table, c.name, c.typ); err != nil {
			return fmt.Errorf("relational: mirror column %s.%s: %w", table, c.name, err)
		}
	}
	return nil
}

// columnSpec resolves the canonical declared type and nullability for
// column name on ev: declared metadata wins when present, otherwise the
// value is inferred (spec §4.E schema reconciliation algorithm).
func columnSpec(ev *model.ChangeEvent, name string) (string, bool) {
	if col, ok := ev.Table.ColumnByName(name); ok && col.DeclaredType != "" {
		return normalizeDeclaredType(col.DeclaredType), col.Nullable
	}
	return inferType(ev.Data[name]), true
}

func isPrimaryKeyName(name string) bool {
	return strings.EqualFold(name, "id")
}

func columnLookup(cols map[string]string, name string) (string, bool) {
	t, ok := cols[name]
	return t, ok
}

// loadColumnsFromDB reads a table's columns from information_schema, used
// on a schema-cache miss (first touch of a table in this process, or a
// "column does not exist" error mid-batch that invalidated the cache).
func (s *Sink) loadColumnsFromDB(ctx context.Context, table string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.columnsQuery(), table)
	if err != nil {
		return nil, fmt.Errorf("relational: read information_schema for %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var name, dbType string
		if err := rows.Scan(&name, &dbType); err != nil {
			return nil, fmt.Errorf("relational: scan information_schema row: %w", err)
		}
		// Normalize to the same canonical tokens the create/alter path
		// stores, so bindArgs never has to distinguish cache provenance.
		cols[name] = dbTypeToCanonical(dbType)
	}
	return cols, rows.Err()
}
