package relational

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPostgresDialect_TypeMap(t *testing.T) {
	d := postgresDialect{}
	assert.Equal(t, "SMALLINT", d.columnType(typeInt16))
	assert.Equal(t, "BIGINT", d.columnType(typeInt64))
	assert.Equal(t, "DOUBLE PRECISION", d.columnType(typeFloat64))
	assert.Equal(t, "UUID", d.columnType(typeUUID))
	assert.Equal(t, "JSONB", d.columnType(typeJSON))
	assert.Equal(t, "TIMESTAMP WITH TIME ZONE", d.columnType(typeZonedTimestamp))
	assert.Equal(t, "TEXT", d.columnType("unmapped-token"))
}

func TestPostgresDialect_CreateTableSQL_IsIdempotent(t *testing.T) {
	d := postgresDialect{}
	cols := []columnDef{
		{name: "id", typ: typeUUID, isPK: true},
		{name: "qty", typ: typeInt64, nullable: true},
	}
	stmt := d.createTableSQL(`"orders"`, cols)
	assert.Contains(t, stmt, "CREATE TABLE IF NOT EXISTS")
	assert.Contains(t, stmt, `"id" UUID PRIMARY KEY`)
	assert.Contains(t, stmt, `"qty" BIGINT NULL`)
}

func TestPostgresDialect_AddColumnSQL_IsIdempotent(t *testing.T) {
	d := postgresDialect{}
	stmt := d.addColumnSQL(`"orders"`, columnDef{name: "note", typ: typeString, nullable: true})
	assert.Equal(t, `ALTER TABLE "orders" ADD COLUMN IF NOT EXISTS "note" TEXT NULL`, stmt)
}

func TestPostgresDialect_UpsertSQL_ConflictPolicies(t *testing.T) {
	d := postgresDialect{}
	cols := []string{"id", "qty", "note"}

	upsert := d.upsertSQL(`"orders"`, cols, "id", conflictUpsert)
	assert.Contains(t, upsert, `ON CONFLICT ("id") DO UPDATE SET`)
	assert.Contains(t, upsert, `"qty" = EXCLUDED."qty"`)
	assert.NotContains(t, upsert, `"id" = EXCLUDED."id"`, "the primary key itself is never re-assigned in DO UPDATE SET")

	ignore := d.upsertSQL(`"orders"`, cols, "id", conflictIgnore)
	assert.Contains(t, ignore, "DO NOTHING")

	replace := d.upsertSQL(`"orders"`, cols, "id", conflictReplace)
	assert.NotContains(t, replace, "ON CONFLICT", "replace is a plain insert; collisions surface as errors")
	assert.True(t, strings.HasPrefix(replace, "INSERT INTO"))
}

func TestMySQLDialect_UpsertSQL_ConflictPolicies(t *testing.T) {
	d := mysqlDialect{}
	cols := []string{"id", "qty"}

	ignore := d.upsertSQL("`orders`", cols, "id", conflictIgnore)
	assert.True(t, strings.HasPrefix(ignore, "INSERT IGNORE INTO"))

	upsert := d.upsertSQL("`orders`", cols, "id", conflictUpsert)
	assert.Contains(t, upsert, "ON DUPLICATE KEY UPDATE")
	assert.Contains(t, upsert, "`qty` = VALUES(`qty`)")

	replace := d.upsertSQL("`orders`", cols, "id", conflictReplace)
	assert.NotContains(t, replace, "ON DUPLICATE KEY UPDATE", "replace is a plain insert; collisions surface as errors")
	assert.True(t, strings.HasPrefix(replace, "INSERT INTO"))
}

func TestQuoteIdent_EscapesEmbeddedQuotes(t *testing.T) {
	pg := postgresDialect{}
	assert.Equal(t, `"weird""name"`, pg.quoteIdent(`weird"name`))

	my := mysqlDialect{}
	assert.Equal(t, "`weird``name`", my.quoteIdent("weird`name"))
}

func TestDBTypeToCanonical(t *testing.T) {
	assert.Equal(t, typeInt64, dbTypeToCanonical("bigint"))
	assert.Equal(t, typeInt32, dbTypeToCanonical("integer"))
	assert.Equal(t, typeString, dbTypeToCanonical("character varying"))
	assert.Equal(t, typeJSON, dbTypeToCanonical("jsonb"))
	assert.Equal(t, typeUUID, dbTypeToCanonical("uuid"))
	assert.Equal(t, typeTimestamp, dbTypeToCanonical("timestamp without time zone"))
}
