package db

import (
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

type DB struct {
	*sql.DB
}

// baselineSchema is the schema a fresh database starts with. It must stay
// in lockstep with the embedded migration chain: applying every migration
// to an empty database has to produce this exact schema.
const baselineSchema = `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id        TEXT PRIMARY KEY,
		started_at        TIMESTAMP NOT NULL,
		ended_at          TIMESTAMP,
		learning          BOOLEAN NOT NULL DEFAULT 0,
		loaded_uuid       TEXT,
		module_version    TEXT
	);
	CREATE TABLE IF NOT EXISTS pose_samples (
		session_id        TEXT NOT NULL,
		frame_pair        TEXT NOT NULL,
		module_ts         DOUBLE NOT NULL,
		tx                DOUBLE,
		ty                DOUBLE,
		tz                DOUBLE,
		qx                DOUBLE,
		qy                DOUBLE,
		qz                DOUBLE,
		qw                DOUBLE,
		status            TEXT NOT NULL,
		timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS relocalizations (
		session_id        TEXT NOT NULL,
		module_ts         DOUBLE NOT NULL,
		map_uuid          TEXT,
		timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS progress_samples (
		session_id        TEXT NOT NULL,
		percent           BIGINT NOT NULL,
		timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS map_saves (
		session_id        TEXT NOT NULL,
		map_uuid          TEXT NOT NULL,
		timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS metadata_edits (
		session_id        TEXT NOT NULL,
		map_uuid          TEXT NOT NULL,
		key               TEXT NOT NULL,
		value             TEXT NOT NULL,
		timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_pose_samples_session_time ON pose_samples (session_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_relocalizations_session ON relocalizations (session_id);
	CREATE INDEX IF NOT EXISTS idx_progress_samples_session ON progress_samples (session_id);
`

// applyPragmas sets the per-connection pragmas. WAL keeps the recorder's
// writes from blocking admin reads, and busy_timeout covers the window
// where a backup VACUUM holds the file lock.
func applyPragmas(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}

// OpenDB opens the journal database without touching the schema. The
// migrate subcommands use this so the migration chain stays the only
// writer of DDL.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := applyPragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return &DB{sqlDB}, nil
}

// NewDB opens the journal database and installs the baseline schema. The
// database is marked as being at the latest migration version, so a later
// daemon start with a longer migration chain knows what to apply.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(baselineSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to install baseline schema: %w", err)
	}
	if err := db.markBaselineVersion(); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// NewDBWithMigrationCheck opens the journal database for daemon use. A
// fresh database gets the baseline schema. An existing database must be at
// the latest migration version; otherwise the handle is closed and an
// error describing the required migrate command is returned. A database
// from before migration tracking is baselined automatically when its
// schema matches the latest migration point exactly.
//
// When quiet is false, remediation steps are logged before returning the
// error.
func NewDBWithMigrationCheck(path string, quiet bool) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	var tables int
	err = db.QueryRow(`
		SELECT COUNT(*)
		FROM sqlite_master
		WHERE type='table' AND name NOT LIKE 'sqlite_%'
	`).Scan(&tables)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to inspect database: %w", err)
	}

	if tables == 0 {
		// Fresh database: install the baseline and record its version.
		if _, err := db.Exec(baselineSchema); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to install baseline schema: %w", err)
		}
		if err := db.markBaselineVersion(); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	}

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}

	var hasMigrations bool
	err = db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_migrations'
	`).Scan(&hasMigrations)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to check schema_migrations table: %w", err)
	}

	if !hasMigrations {
		// Pre-migration database. Baseline it when the schema already
		// matches the latest migration point, otherwise hand the
		// decision to the operator.
		version, score, _, err := db.DetectSchemaVersion(migrationsFS)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("schema detection failed: %w", err)
		}
		latest, err := GetLatestMigrationVersion(migrationsFS)
		if err != nil {
			db.Close()
			return nil, err
		}
		if score == 100 && version == latest {
			if err := db.BaselineAtVersion(latest); err != nil {
				db.Close()
				return nil, err
			}
			return db, nil
		}
		if !quiet {
			log.Printf("Database %s has no migration history (closest schema match: version %d at %d%%)", path, version, score)
			log.Printf("Run \"areatrackd -migrate detect\" and then \"areatrackd -migrate baseline <N>\"")
		}
		db.Close()
		return nil, fmt.Errorf("database %s has no migration history; run \"areatrackd -migrate detect\"", path)
	}

	shouldExit, err := db.CheckAndPromptMigrations(migrationsFS)
	if shouldExit {
		if !quiet {
			log.Printf("Database %s needs attention before the daemon can use it:", path)
			log.Printf("  %v", err)
			log.Printf("Run \"areatrackd -migrate status\" for details")
		}
		db.Close()
		return nil, err
	}

	return db, nil
}

// GetDatabaseStats returns per-table row counts and the database file size.
func (db *DB) GetDatabaseStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})
	tables := []string{"sessions", "pose_samples", "relocalizations", "progress_samples", "map_saves", "metadata_edits"}
	for _, table := range tables {
		var count int64
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats[table] = count
	}

	var pageCount, pageSize int64
	if err := db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, fmt.Errorf("failed to read page_count: %w", err)
	}
	if err := db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("failed to read page_size: %w", err)
	}
	stats["size_bytes"] = pageCount * pageSize

	return stats, nil
}

// AttachAdminRoutes wires the journal debug surfaces onto mux: row counts,
// a tailsql browser for live queries, and a backup download endpoint.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.Handle("db-stats", "Journal table counts", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats, err := db.GetDatabaseStats()
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to collect stats: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			log.Printf("Failed to encode db stats: %v", err)
		}
	}))

	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://areatrack.db", db.DB, &tailsql.DBOptions{
		Label: "Session journal",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the journal now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("areatrack-backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}

		// close the backup file after sending it
		// and remove it from the filesystem
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := gzipWriter.Write([]byte{}); err != nil {
			// Need to write something to initialize the gzip header
			http.Error(w, fmt.Sprintf("Failed to initialize gzip writer: %v", err), http.StatusInternalServerError)
			return
		}

		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
