package db

import (
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// GetDatabaseSchema extracts the user schema as a map of object name to
// normalized CREATE statement. Internal sqlite objects and the migration
// bookkeeping table are excluded.
func (db *DB) GetDatabaseSchema() (map[string]string, error) {
	return getSchema(db.DB)
}

func getSchema(sqlDB *sql.DB) (map[string]string, error) {
	rows, err := sqlDB.Query(`
		SELECT name, sql
		FROM sqlite_master
		WHERE type IN ('table', 'index', 'trigger')
		  AND name NOT LIKE 'sqlite_%'
		  AND name != 'schema_migrations'
		  AND name != 'version_unique'
		  AND sql IS NOT NULL
		ORDER BY type, name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query schema: %w", err)
	}
	defer rows.Close()

	schema := make(map[string]string)
	for rows.Next() {
		var name, sqlText string
		if err := rows.Scan(&name, &sqlText); err != nil {
			return nil, fmt.Errorf("failed to scan schema row: %w", err)
		}
		schema[name] = normalizeSQL(sqlText)
	}

	return schema, rows.Err()
}

// normalizeSQL collapses formatting differences so schema comparison only
// sees structural changes.
func normalizeSQL(sqlText string) string {
	// Replace runs of whitespace with single spaces
	sqlText = strings.Join(strings.Fields(sqlText), " ")

	// Remove trailing semicolon
	sqlText = strings.TrimSuffix(sqlText, ";")

	// Normalize comma spacing - remove spaces before commas
	sqlText = strings.ReplaceAll(sqlText, " ,", ",")

	// sqlite_master keeps IF NOT EXISTS verbatim; ignore it so a
	// baseline-created schema compares equal to a migrated one.
	sqlText = strings.ReplaceAll(sqlText, "IF NOT EXISTS ", "")

	return sqlText
}

// CompareSchemas scores how similar the database schema is to an expected
// schema. The score is the percentage of objects, across both schemas,
// whose definitions match exactly.
func CompareSchemas(dbSchema, expected map[string]string) (score int, differences []string) {
	names := make(map[string]bool)
	for name := range dbSchema {
		names[name] = true
	}
	for name := range expected {
		names[name] = true
	}

	if len(names) == 0 {
		return 100, nil
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	matches := 0
	for _, name := range sorted {
		got, inDB := dbSchema[name]
		want, inExpected := expected[name]
		switch {
		case inDB && inExpected && got == want:
			matches++
		case inDB && inExpected:
			differences = append(differences, fmt.Sprintf("%s: definition differs", name))
		case inDB:
			differences = append(differences, fmt.Sprintf("%s: present only in database", name))
		default:
			differences = append(differences, fmt.Sprintf("%s: missing from database", name))
		}
	}

	return matches * 100 / len(names), differences
}

// GetSchemaAtMigration rebuilds the schema a database would have at the
// given migration version, using a scratch in-memory database.
func GetSchemaAtMigration(migrationsFS fs.FS, version uint) (map[string]string, error) {
	scratch, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open scratch database: %w", err)
	}
	defer scratch.Close()
	// A second pool connection would get its own empty in-memory database.
	scratch.SetMaxOpenConns(1)

	scratchDB := &DB{scratch}
	if err := scratchDB.MigrateTo(migrationsFS, version); err != nil {
		return nil, fmt.Errorf("failed to build schema at version %d: %w", version, err)
	}

	return getSchema(scratch)
}

// DetectSchemaVersion finds the migration version whose schema most
// closely matches this database. Used for databases from before migration
// tracking was added.
func (db *DB) DetectSchemaVersion(migrationsFS fs.FS) (version uint, matchScore int, differences []string, err error) {
	dbSchema, err := db.GetDatabaseSchema()
	if err != nil {
		return 0, 0, nil, err
	}

	latest, err := GetLatestMigrationVersion(migrationsFS)
	if err != nil {
		return 0, 0, nil, err
	}

	bestVersion := uint(0)
	bestScore := -1
	var bestDiffs []string
	for v := uint(1); v <= latest; v++ {
		candidate, err := GetSchemaAtMigration(migrationsFS, v)
		if err != nil {
			return 0, 0, nil, err
		}
		score, diffs := CompareSchemas(dbSchema, candidate)
		// Ties go to the newer version so baselining lands as far
		// forward as possible.
		if score >= bestScore {
			bestVersion, bestScore, bestDiffs = v, score, diffs
		}
	}

	return bestVersion, bestScore, bestDiffs, nil
}
