// Command trajectory-plot renders the device path of a journaled session
// as a PNG. The plot projects the selected frame pair's valid poses onto
// the floor plane and marks the start, end, and relocalization points.
package main

import (
	"flag"
	"log"
	"os"

	_ "modernc.org/sqlite"

	"github.com/meridian-robotics/areatrack/internal/db"
	"github.com/meridian-robotics/areatrack/internal/journal"
)

func main() {
	dbPath := flag.String("db", "areatrack.db", "path to journal DB file")
	sessionID := flag.String("session", "", "session id (default: most recent)")
	pair := flag.String("pair", "start_to_device", "frame pair to plot")
	output := flag.String("o", "trajectory.png", "output path")
	flag.Parse()

	if _, err := os.Stat(*dbPath); err != nil {
		log.Fatalf("DB path %s not accessible: %v", *dbPath, err)
	}

	d, err := db.OpenDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer d.Close()
	store := journal.NewStore(d)

	session := *sessionID
	if session == "" {
		sessions, err := store.ListSessions(1)
		if err != nil {
			log.Fatalf("Failed to list sessions: %v", err)
		}
		if len(sessions) == 0 {
			log.Fatal("journal has no sessions")
		}
		session = sessions[0].SessionID
		log.Printf("using most recent session %s", session)
	}

	poses, err := store.PosePath(session, *pair)
	if err != nil {
		log.Fatalf("Failed to load pose path: %v", err)
	}
	if len(poses) == 0 {
		log.Fatalf("no valid %s poses journaled for session %s", *pair, session)
	}

	marks, err := store.Relocalizations(session)
	if err != nil {
		log.Fatalf("Failed to load relocalizations: %v", err)
	}

	if err := renderTrajectory(*output, *pair, poses, marks); err != nil {
		log.Fatalf("plot failed: %v", err)
	}
	log.Printf("✓ Created: %s (%d poses)", *output, len(poses))
}
