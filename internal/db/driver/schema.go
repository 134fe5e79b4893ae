package driver

import (
	"context"
	"embed"
	"fmt"
	"strings"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// columnMigrations are additive columns introduced after the base schema
// shipped. Each is applied with ALTER TABLE ADD COLUMN; "column already
// exists" failures are expected on databases that already carry them.
var columnMigrations = []struct {
	table  string
	column string
	ddl    string
}{
	{"tasks", "commit_sha", "commit_sha TEXT NOT NULL DEFAULT ''"},
	{"tasks", "size_score", "size_score INTEGER NOT NULL DEFAULT 0"},
	{"tasks", "cost_usd", "cost_usd REAL NOT NULL DEFAULT 0"},
}

// schemaStatements loads and splits the embedded schema for a dialect.
// The schema files keep semicolons out of literals, so splitting on the
// statement terminator is safe.
func schemaStatements(dialect Dialect) ([]string, error) {
	name := "schema/sqlite.sql"
	if dialect == DialectPostgres {
		name = "schema/postgres.sql"
	}

	content, err := schemaFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}

	var stmts []string
	for _, raw := range strings.Split(string(content), ";") {
		stmt := stripComments(raw)
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		stmts = append(stmts, strings.TrimSpace(stmt))
	}
	return stmts, nil
}

func stripComments(s string) string {
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "--") {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// applySchema runs the base DDL followed by the additive column migrations.
// exec is the raw statement runner of the adapter being initialized.
func applySchema(ctx context.Context, dialect Dialect, exec func(ctx context.Context, stmt string) error) error {
	stmts, err := schemaStatements(dialect)
	if err != nil {
		return err
	}

	for _, stmt := range stmts {
		if err := exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	for _, m := range columnMigrations {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", m.table, m.ddl)
		if err := exec(ctx, stmt); err != nil {
			if isDuplicateColumn(err) {
				continue
			}
			return fmt.Errorf("add column %s.%s: %w", m.table, m.column, err)
		}
	}

	return nil
}

// isDuplicateColumn detects the "column already exists" failure from either
// engine: SQLite reports "duplicate column name", PostgreSQL SQLSTATE 42701
// renders as "already exists".
func isDuplicateColumn(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate column name") ||
		strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "42701")
}
