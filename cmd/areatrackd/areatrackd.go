package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/meridian-robotics/areatrack/internal/adf"
	"github.com/meridian-robotics/areatrack/internal/api"
	"github.com/meridian-robotics/areatrack/internal/config"
	"github.com/meridian-robotics/areatrack/internal/db"
	"github.com/meridian-robotics/areatrack/internal/journal"
	"github.com/meridian-robotics/areatrack/internal/progress"
	"github.com/meridian-robotics/areatrack/internal/session"
	"github.com/meridian-robotics/areatrack/internal/tracker"
	"github.com/meridian-robotics/areatrack/internal/trackermux"
	"github.com/meridian-robotics/areatrack/internal/version"
)

var (
	devMode       = flag.Bool("dev", false, "Run with the scripted mock module")
	listen        = flag.String("listen", ":8080", "Listen address")
	port          = flag.String("port", "/dev/ttyUSB0", "Serial port for the tracking module (empty disables the module link)")
	baud          = flag.Int("baud", 0, "Baud rate override (0 uses the tuning config, default 115200)")
	dbFile        = flag.String("db", "areatrack.db", "Path to the session journal database (empty disables journaling)")
	configFile    = flag.String("config", "", "Path to a tuning config JSON file")
	replayFile    = flag.String("replay", "", "Replay a captured module line log instead of opening a port")
	migrateCmd    = flag.String("migrate", "", "Run a journal migration command and exit (up, down, status, detect, version, force, baseline, help)")
	migrationsDir = flag.String("migrations", "", "Override the embedded migrations with a directory (development)")
)

func main() {
	flag.Parse()

	if *migrateCmd != "" {
		db.RunMigrateCommand(append([]string{*migrateCmd}, flag.Args()...), *dbFile, *migrationsDir)
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	log.Printf("areatrackd %s (%s)", version.Version, version.GitSHA)

	cfg := config.EmptyTuningConfig()
	if *configFile != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		log.Printf("loaded tuning config from %s", *configFile)
	}

	var module trackermux.MuxInterface
	switch {
	case *devMode:
		module = trackermux.NewMockMux(trackermux.MockModuleConfig{
			RelocalizeAfter: cfg.GetMockRelocalizeAfter(),
			PoseHz:          cfg.GetMockPoseHz(),
			SaveDuration:    cfg.GetMockSaveDuration(),
		})
	case *replayFile != "":
		replayPort, err := trackermux.OpenReplayPort(trackermux.ReplayConfig{Path: *replayFile})
		if err != nil {
			log.Fatalf("failed to open replay capture: %v", err)
		}
		module = trackermux.NewMux(replayPort)
	case *port != "":
		serialCfg := cfg.GetSerial()
		if *baud > 0 {
			serialCfg.BaudRate = *baud
		}
		realMux, err := trackermux.NewRealMux(*port, trackermux.PortOptions{
			BaudRate: serialCfg.BaudRate,
			DataBits: serialCfg.DataBits,
			StopBits: serialCfg.StopBits,
			Parity:   serialCfg.Parity,
		})
		if err != nil {
			log.Fatalf("failed to open tracker port: %v", err)
		}
		module = realMux
	default:
		log.Printf("no tracker port configured; module operations will report unavailable")
		module = trackermux.NewDisabledService()
	}
	defer module.Close()

	var database *db.DB
	var store *journal.Store
	if *dbFile != "" {
		var err error
		database, err = db.NewDBWithMigrationCheck(*dbFile, false)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
		store = journal.NewStore(database)
	} else {
		log.Printf("journaling disabled")
	}

	sessionID := uuid.New().String()
	log.Printf("session %s", sessionID)

	reporter := progress.NewReporter(cfg.GetProgressBuffer())
	tapSize := 0
	if store == nil {
		// Nothing consumes the tap without a journal.
		tapSize = -1
	}
	ingestor := session.NewIngestor(session.IngestorConfig{
		Progress:    reporter,
		PoseTapSize: tapSize,
	})
	module.RegisterListener(ingestor)

	// Create a wait group for the HTTP server, module monitor, and journal routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the module link
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := module.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor tracker link: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// Startup round trips answer quickly on a live link; a bounded context
	// keeps a dead port from hanging the daemon.
	startupCtx, cancelStartup := context.WithTimeout(ctx, 10*time.Second)
	if err := module.Initialize(startupCtx); err != nil {
		log.Fatalf("failed to initialize tracking module: %v", err)
	}

	moduleVersion, err := module.ServiceVersion(startupCtx)
	if err != nil {
		log.Printf("module version unavailable: %v", err)
	} else {
		log.Printf("initialized tracking module %s", moduleVersion)
	}

	loadUUID := ""
	if cfg.GetLoadMostRecentMap() {
		if blob, err := module.ListMapUuids(startupCtx); err != nil {
			log.Printf("failed to list stored maps: %v", err)
		} else if picked, ok := adf.SelectStartupMap(adf.ParseUUIDList(blob)); ok {
			loadUUID = picked
			log.Printf("loading most recent area description %s", loadUUID)
		}
	}

	var recorder *journal.Recorder
	var sink adf.Sink
	if store != nil {
		recorder = journal.NewRecorder(store, sessionID, journal.RecorderConfig{
			Buffer:     cfg.GetJournalBuffer(),
			PoseHz:     cfg.GetPoseJournalHz(),
			LoadedUUID: loadUUID,
		})
		sink = recorder
	}
	maps := adf.NewManager(module, ingestor.Poses(), sink)
	maps.BeginSession(loadUUID)

	if store != nil {
		err := store.StartSession(journal.SessionRecord{
			SessionID:     sessionID,
			StartedAt:     time.Now(),
			Learning:      cfg.GetLearningMode(),
			LoadedUUID:    loadUUID,
			ModuleVersion: moduleVersion,
		})
		if err != nil {
			log.Printf("failed to record session start: %v", err)
		}
	}

	connectErr := module.Connect(startupCtx, tracker.ConnectOptions{
		LearningMode: cfg.GetLearningMode(),
		LoadMapUUID:  loadUUID,
	})
	cancelStartup()
	if connectErr != nil {
		// The HTTP surface still serves; /api/status shows the dead link.
		log.Printf("failed to connect tracking session: %v", connectErr)
	} else {
		log.Printf("tracking session connected (learning=%v)", cfg.GetLearningMode())
	}

	if recorder != nil {
		// journal writer routine
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.Run(ctx)
			log.Print("journal writer terminated")
		}()

		// drain the pose tap into the journal
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case pose := <-ingestor.PoseTap():
					recorder.RecordPose(pose)
				case <-ctx.Done():
					log.Print("pose journal routine terminated")
					return
				}
			}
		}()

		// subscribe to save-progress updates and journal them
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, updates := reporter.Subscribe()
			defer reporter.Unsubscribe(id)
			for {
				select {
				case pct, ok := <-updates:
					if !ok {
						return
					}
					recorder.RecordProgress(pct)
				case <-ctx.Done():
					log.Print("progress journal routine terminated")
					return
				}
			}
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		// create a new API server instance over the session state
		// and mount the API handlers
		server := api.NewServer(api.Config{
			Service:       module,
			Maps:          maps,
			Ingestor:      ingestor,
			Reporter:      reporter,
			Journal:       store,
			Recorder:      recorder,
			Link:          module,
			SessionID:     sessionID,
			ModuleVersion: moduleVersion,
			StaleAfter:    cfg.GetPoseStaleAfter(),
		})
		mux := server.ServeMux()

		module.AttachAdminRoutes(mux)
		if database != nil {
			database.AttachAdminRoutes(mux)
		}
		server.AttachAdminRoutes(mux)

		httpServer := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("listening on %s", *listen)

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// Create a shutdown context with a shorter timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := httpServer.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()

	if store != nil {
		if err := store.EndSession(sessionID, time.Now()); err != nil {
			log.Printf("failed to record session end: %v", err)
		}
	}
	log.Printf("Graceful shutdown complete")
}
