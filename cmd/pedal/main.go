package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/pedal.report/internal/api"
	"github.com/banshee-data/pedal.report/internal/config"
	"github.com/banshee-data/pedal.report/internal/db"
	"github.com/banshee-data/pedal.report/internal/docstore"
	"github.com/banshee-data/pedal.report/internal/httputil"
	"github.com/banshee-data/pedal.report/internal/mqttfeed"
	"github.com/banshee-data/pedal.report/internal/ride"
	"github.com/banshee-data/pedal.report/internal/serialmux"
	"github.com/banshee-data/pedal.report/internal/store"
	"github.com/banshee-data/pedal.report/internal/timeutil"
	"github.com/banshee-data/pedal.report/internal/units"
	"github.com/banshee-data/pedal.report/internal/version"
)

// Feed sources.
const (
	feedSerial   = "serial"
	feedMQTT     = "mqtt"
	feedDisabled = "disabled"
)

var (
	listen        = flag.String("listen", ":8080", "Listen address")
	feedKind      = flag.String("feed", feedSerial, "Sample feed: serial, mqtt or disabled")
	port          = flag.String("port", "/dev/ttyUSB0", "Serial port of the BLE bridge")
	baud          = flag.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")
	mqttBroker    = flag.String("mqtt-broker", "tcp://localhost:1883", "MQTT broker URL")
	mqttTopic     = flag.String("mqtt-topic", mqttfeed.DefaultTopic, "MQTT topic carrying samples")
	dbPath        = flag.String("db-path", "pedal.db", "Path to the SQLite database")
	configPath    = flag.String("config", "", "Tuning file (JSON); empty uses built-in defaults")
	storeKind     = flag.String("store", store.BackendLocal, "Persistence backend: local or remote")
	remoteURL     = flag.String("remote-url", "", "Base URL of the remote document API (with --store remote)")
	serveDocstore = flag.Bool("serve-docstore", false, "Serve the document API under /docs/")
	speedUnits    = flag.String("units", units.KMPH, "Default speed units for the API: "+units.GetValidUnitsString())
	devMode       = flag.Bool("dev", false, "Run in dev mode (migrations read from disk)")
	fixtures      = flag.String("fixtures", "", "Replay samples from this file instead of the feed")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	db.DevMode = *devMode

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "migrate":
			db.RunMigrateCommand(flag.Args()[1:], *dbPath)
			return
		default:
			log.Fatalf("unknown command %q", flag.Arg(0))
		}
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if !units.IsValid(*speedUnits) {
		log.Fatalf("invalid --units %q, must be one of: %s", *speedUnits, units.GetValidUnitsString())
	}

	tuning, err := loadTuning(*configPath)
	if err != nil {
		log.Fatalf("failed to load tuning: %v", err)
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	backend, err := openStore(*storeKind, *remoteURL, tuning, database)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}

	feed, err := openFeed(*feedKind, *fixtures, tuning)
	if err != nil {
		log.Fatalf("failed to open feed: %v", err)
	}
	defer feed.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loadCtx, cancelLoad := context.WithTimeout(ctx, tuning.GetRemoteTimeout())
	engine, err := ride.New(loadCtx, ride.Options{Tuning: tuning, Store: backend})
	cancelLoad()
	if err != nil {
		log.Fatalf("failed to start ride engine: %v", err)
	}

	mux := newMux(engine, feed, database, *speedUnits, *serveDocstore)

	var wg sync.WaitGroup

	// run the monitor routine to manage IO on the feed
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := feed.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("feed monitor stopped: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Consume(ctx, feed)
		log.Print("consume routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Run(ctx)
		log.Print("engine stopped, state saved")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:              *listen,
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// loadTuning reads path, or returns the built-in defaults when path is empty.
func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

func openStore(kind, remote string, tuning *config.TuningConfig, database *db.DB) (store.Store, error) {
	switch kind {
	case store.BackendLocal:
		return store.NewLocal(database), nil
	case store.BackendRemote:
		if strings.TrimSpace(remote) == "" {
			return nil, errors.New("--remote-url is required with --store remote")
		}
		client := httputil.NewStandardClient(tuning.GetRemoteTimeout())
		return store.NewRemote(remote, client, timeutil.RealClock{}), nil
	default:
		return nil, fmt.Errorf("unknown store %q (want %s or %s)", kind, store.BackendLocal, store.BackendRemote)
	}
}

// openFeed returns the sample source. A fixtures file takes precedence over
// kind and replays at the nominal sample interval.
func openFeed(kind, fixturePath string, tuning *config.TuningConfig) (serialmux.SerialMuxInterface, error) {
	if fixturePath != "" {
		log.Printf("replaying fixtures from %s", fixturePath)
		return serialmux.NewMockSerialMux(fixturePath, tuning.GetSampleInterval())
	}
	switch kind {
	case feedSerial:
		return serialmux.NewRealSerialMux(*port, serialmux.PortOptions{BaudRate: *baud})
	case feedMQTT:
		return mqttfeed.Dial(*mqttBroker, "", *mqttTopic)
	case feedDisabled:
		return serialmux.NewDisabledSerialMux(), nil
	default:
		return nil, fmt.Errorf("unknown feed %q (want %s, %s or %s)", kind, feedSerial, feedMQTT, feedDisabled)
	}
}

// newMux mounts the public API, the debug routes and, optionally, the
// document API.
func newMux(engine api.Ride, feed serialmux.SerialMuxInterface, database *db.DB, defaultUnits string, withDocstore bool) *http.ServeMux {
	mux := api.NewServer(engine, defaultUnits).ServeMux()
	feed.AttachAdminRoutes(mux)
	if err := database.AttachAdminRoutes(mux); err != nil {
		log.Printf("failed to attach database admin routes: %v", err)
	}
	if withDocstore {
		mux.Handle("/docs/", http.StripPrefix("/docs", docstore.NewHandler(database)))
	}
	return mux
}
