// Package sqlnorm rewrites engine-generated SQL for warehouses whose session
// is already bound to a database. Postgres connections cannot address
// three-part identifiers from other databases, so the database qualifier is
// stripped down to schema.table.
package sqlnorm

import (
	"regexp"

	"github.com/lightdash/metricflow-service/engine/semantic"
)

const postgresAdapter = "postgres"

var (
	// quoted: "db"."schema"."table" -> "schema"."table"
	threePartQuotedRe = regexp.MustCompile(`"[^"]+"\.("[^"]+"\."[^"]+")`)
	// bare: db.schema.table -> schema.table, anchored on word boundaries so
	// qualified column references (schema.table.column) survive.
	threePartBareRe = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_$]*\.([A-Za-z_][A-Za-z0-9_$]*\.[A-Za-z_][A-Za-z0-9_$]*)\b`)
)

// Normalize rewrites sql for the engine's adapter. Non-postgres adapters pass
// through untouched. The rewrite is idempotent: already two-part identifiers
// are left alone.
func Normalize(sql string, engine semantic.Engine) string {
	client := engine.SQLClient()
	if client == nil {
		return sql
	}
	adapter := client.Adapter()
	if adapter == nil || adapter.Type() != postgresAdapter {
		return sql
	}
	return stripDatabasePrefix(sql, adapter.Database())
}

// stripDatabasePrefix removes the leading database qualifier from three-part
// identifiers. The session database is tried first as an exact prefix; when it
// matches nothing, any three-part identifier collapses to two parts so
// foreign-database references still normalize.
func stripDatabasePrefix(sql, database string) string {
	if database != "" {
		out := replaceKnownPrefix(sql, database)
		if out != sql {
			return out
		}
	}
	out := threePartQuotedRe.ReplaceAllString(sql, "$1")
	return threePartBareRe.ReplaceAllString(out, "$1")
}

// replaceKnownPrefix strips `database.` only where it starts a three-part
// identifier. Two-part relations that happen to share the database name, and
// column references named after it, survive.
func replaceKnownPrefix(sql, database string) string {
	quoted, err := regexp.Compile(
		`"` + regexp.QuoteMeta(database) + `"\.("[^"]+"\."[^"]+")`)
	if err != nil {
		return sql
	}
	bare, err := regexp.Compile(`\b` + regexp.QuoteMeta(database) +
		`\.([A-Za-z_][A-Za-z0-9_$]*\.[A-Za-z_][A-Za-z0-9_$]*)`)
	if err != nil {
		return sql
	}
	return bare.ReplaceAllString(quoted.ReplaceAllString(sql, "$1"), "$1")
}
