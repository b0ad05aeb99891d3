package db

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMigrateUpAndDown(t *testing.T) {
	db := setupEmptyTestDB(t)
	migrationsFS := setupTestMigrations(t)

	if err := db.MigrateUp(migrationsFS); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	version, dirty, err := db.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 2 || dirty {
		t.Errorf("Expected version 2 clean, got %d (dirty: %v)", version, dirty)
	}

	var name string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='test_table'").Scan(&name)
	if err != nil {
		t.Errorf("test_table missing after MigrateUp: %v", err)
	}

	// MigrateUp again is a no-op
	if err := db.MigrateUp(migrationsFS); err != nil {
		t.Errorf("Repeated MigrateUp should be a no-op, got: %v", err)
	}

	if err := db.MigrateDown(migrationsFS); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}

	version, _, err = db.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 {
		t.Errorf("Expected version 1 after rollback, got %d", version)
	}

	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='test_column_idx'").Scan(&name)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Expected test_column_idx gone after rollback, got err=%v", err)
	}
}

func TestMigrateTo(t *testing.T) {
	db := setupEmptyTestDB(t)
	migrationsFS := setupTestMigrations(t)

	if err := db.MigrateTo(migrationsFS, 1); err != nil {
		t.Fatalf("MigrateTo(1) failed: %v", err)
	}
	version, _, err := db.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 {
		t.Errorf("Expected version 1, got %d", version)
	}

	if err := db.MigrateTo(migrationsFS, 2); err != nil {
		t.Fatalf("MigrateTo(2) failed: %v", err)
	}
	version, _, err = db.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 2 {
		t.Errorf("Expected version 2, got %d", version)
	}
}

func TestMigrateVersionFresh(t *testing.T) {
	db := setupEmptyTestDB(t)
	migrationsFS := setupTestMigrations(t)

	version, dirty, err := db.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion on fresh database failed: %v", err)
	}
	if version != 0 || dirty {
		t.Errorf("Expected version 0 clean on fresh database, got %d (dirty: %v)", version, dirty)
	}
}

func TestMigrateForce(t *testing.T) {
	db := setupEmptyTestDB(t)
	migrationsFS := setupTestMigrations(t)

	if err := db.MigrateUp(migrationsFS); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_migrations SET dirty = 1"); err != nil {
		t.Fatalf("Failed to set dirty state: %v", err)
	}

	if err := db.MigrateForce(migrationsFS, 1); err != nil {
		t.Fatalf("MigrateForce failed: %v", err)
	}

	version, dirty, err := db.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("Expected version 1 clean after force, got %d (dirty: %v)", version, dirty)
	}
}

// TestCheckAndPromptMigrations_UpToDate verifies no error when database is current
func TestCheckAndPromptMigrations_UpToDate(t *testing.T) {
	db := setupEmptyTestDB(t)
	migrationsFS := setupTestMigrations(t)

	if err := db.MigrateUp(migrationsFS); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	shouldExit, err := db.CheckAndPromptMigrations(migrationsFS)
	if err != nil {
		t.Errorf("Expected no error when up to date, got: %v", err)
	}
	if shouldExit {
		t.Error("Expected shouldExit to be false when up to date")
	}
}

// TestCheckAndPromptMigrations_OutOfDate verifies error when migrations are pending
func TestCheckAndPromptMigrations_OutOfDate(t *testing.T) {
	db := setupEmptyTestDB(t)
	migrationsFS := setupTestMigrations(t)

	if err := db.MigrateTo(migrationsFS, 1); err != nil {
		t.Fatalf("MigrateTo(1) failed: %v", err)
	}

	shouldExit, err := db.CheckAndPromptMigrations(migrationsFS)
	if err == nil {
		t.Error("Expected error when migrations are pending")
	}
	if !shouldExit {
		t.Error("Expected shouldExit to be true when migrations are pending")
	}
}

// TestCheckAndPromptMigrations_DirtyState verifies error when database is dirty
func TestCheckAndPromptMigrations_DirtyState(t *testing.T) {
	db := setupEmptyTestDB(t)
	migrationsFS := setupTestMigrations(t)

	if err := db.MigrateUp(migrationsFS); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_migrations SET dirty = 1"); err != nil {
		t.Fatalf("Failed to set dirty state: %v", err)
	}

	shouldExit, err := db.CheckAndPromptMigrations(migrationsFS)
	if err == nil {
		t.Error("Expected error when database is dirty")
	}
	if !shouldExit {
		t.Error("Expected shouldExit to be true when database is dirty")
	}
}

func TestGetMigrationStatus(t *testing.T) {
	db := setupEmptyTestDB(t)
	migrationsFS := setupTestMigrations(t)

	if err := db.MigrateUp(migrationsFS); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	status, err := db.GetMigrationStatus(migrationsFS)
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	if got := status["current_version"].(uint); got != 2 {
		t.Errorf("Expected current_version 2, got %d", got)
	}
	if got := status["dirty"].(bool); got {
		t.Error("Expected dirty false")
	}
	if got := status["schema_migrations_exists"].(bool); !got {
		t.Error("Expected schema_migrations_exists true")
	}
}

// TestGetLatestMigrationVersion verifies we can detect the latest migration version
func TestGetLatestMigrationVersion(t *testing.T) {
	migrationsFS := setupTestMigrations(t)

	version, err := GetLatestMigrationVersion(migrationsFS)
	if err != nil {
		t.Fatalf("GetLatestMigrationVersion failed: %v", err)
	}
	if version != 2 {
		t.Errorf("Expected latest version 2, got %d", version)
	}
}

// TestGetLatestMigrationVersion_NoMigrations verifies error when no migrations exist
func TestGetLatestMigrationVersion_NoMigrations(t *testing.T) {
	emptyFS := os.DirFS(t.TempDir())

	if _, err := GetLatestMigrationVersion(emptyFS); err == nil {
		t.Error("Expected error when no migrations exist")
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	migrationsFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS failed: %v", err)
	}

	latest, err := GetLatestMigrationVersion(migrationsFS)
	if err != nil {
		t.Fatalf("GetLatestMigrationVersion failed: %v", err)
	}
	if latest < 1 {
		t.Errorf("Expected at least one embedded migration, got latest %d", latest)
	}

	// Every up migration needs a working down migration.
	db := setupEmptyTestDB(t)
	if err := db.MigrateUp(migrationsFS); err != nil {
		t.Fatalf("MigrateUp over embedded chain failed: %v", err)
	}
	for v := latest; v > 0; v-- {
		if err := db.MigrateDown(migrationsFS); err != nil {
			t.Fatalf("MigrateDown from version %d failed: %v", v, err)
		}
	}
}

// TestNewDBWithMigrationCheck_FreshDatabase verifies fresh database is baselined
func TestNewDBWithMigrationCheck_FreshDatabase(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "fresh.db")

	db, err := NewDBWithMigrationCheck(fname, false)
	if err != nil {
		t.Fatalf("NewDBWithMigrationCheck failed: %v", err)
	}
	defer db.Close()

	var version uint
	if err := db.QueryRow("SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		t.Fatalf("Failed to read version: %v", err)
	}

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("Failed to get migrations FS: %v", err)
	}
	latestVersion, err := GetLatestMigrationVersion(migrationsFS)
	if err != nil {
		t.Fatalf("Failed to get latest migration version: %v", err)
	}

	if version != latestVersion {
		t.Errorf("Expected baseline version %d (latest from migrations), got %d", latestVersion, version)
	}
}

// TestNewDBWithMigrationCheck_UpToDate verifies reopening a current database succeeds
func TestNewDBWithMigrationCheck_UpToDate(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "current.db")

	db1, err := NewDB(fname)
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	db1.Close()

	db2, err := NewDBWithMigrationCheck(fname, true)
	if err != nil {
		t.Fatalf("Expected reopen to succeed, got: %v", err)
	}
	db2.Close()
}

// TestNewDBWithMigrationCheck_OutOfDateDatabase verifies error on old database
func TestNewDBWithMigrationCheck_OutOfDateDatabase(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "old.db")

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("Failed to get migrations FS: %v", err)
	}

	db, err := OpenDB(fname)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	if err := db.MigrateTo(migrationsFS, 1); err != nil {
		t.Fatalf("MigrateTo(1) failed: %v", err)
	}
	db.Close()

	_, err = NewDBWithMigrationCheck(fname, true)
	if err == nil {
		t.Fatal("Expected error when database is out of date")
	}
	if !strings.Contains(err.Error(), "migrate up") {
		t.Errorf("Expected error to name the migrate command, got: %v", err)
	}
}

// TestNewDBWithMigrationCheck_LegacyPerfectMatch verifies baselining when the
// schema already matches the latest migration point
func TestNewDBWithMigrationCheck_LegacyPerfectMatch(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "legacy.db")

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("Failed to get migrations FS: %v", err)
	}

	db, err := OpenDB(fname)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	if err := db.MigrateUp(migrationsFS); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	if _, err := db.Exec("DROP TABLE schema_migrations"); err != nil {
		t.Fatalf("Failed to drop schema_migrations: %v", err)
	}
	db.Close()

	reopened, err := NewDBWithMigrationCheck(fname, true)
	if err != nil {
		t.Fatalf("Expected success when at latest version, got: %v", err)
	}
	defer reopened.Close()

	var version uint
	if err := reopened.QueryRow("SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		t.Fatalf("Failed to read baselined version: %v", err)
	}
	latest, err := GetLatestMigrationVersion(migrationsFS)
	if err != nil {
		t.Fatalf("Failed to get latest migration version: %v", err)
	}
	if version != latest {
		t.Errorf("Expected baselined version %d, got %d", latest, version)
	}
}

// TestNewDBWithMigrationCheck_LegacyOlderSchema verifies handling of legacy
// databases whose schema predates the latest migration point
func TestNewDBWithMigrationCheck_LegacyOlderSchema(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "legacy-old.db")

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("Failed to get migrations FS: %v", err)
	}

	db, err := OpenDB(fname)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	if err := db.MigrateTo(migrationsFS, 1); err != nil {
		t.Fatalf("MigrateTo(1) failed: %v", err)
	}
	if _, err := db.Exec("DROP TABLE schema_migrations"); err != nil {
		t.Fatalf("Failed to drop schema_migrations: %v", err)
	}
	db.Close()

	_, err = NewDBWithMigrationCheck(fname, true)
	if err == nil {
		t.Fatal("Expected error for legacy database behind latest schema")
	}
	if !strings.Contains(err.Error(), "migrate detect") {
		t.Errorf("Expected error to suggest migrate detect, got: %v", err)
	}
}
