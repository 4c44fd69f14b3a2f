// Command gauge runs the vacuum gauge service: it polls a DigiVac Quantum
// DPP gauge (or the built-in simulator), persists samples to sqlite and CSV,
// and serves the dashboard and API over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	report "github.com/vaclab-data/pressure.report"
	"github.com/vaclab-data/pressure.report/internal/api"
	"github.com/vaclab-data/pressure.report/internal/config"
	"github.com/vaclab-data/pressure.report/internal/control"
	"github.com/vaclab-data/pressure.report/internal/db"
	"github.com/vaclab-data/pressure.report/internal/mqttpub"
	"github.com/vaclab-data/pressure.report/internal/quantum"
	"github.com/vaclab-data/pressure.report/internal/serialport"
	"github.com/vaclab-data/pressure.report/internal/version"
)

var (
	devMode    = flag.Bool("dev", false, "Run in dev mode (serve ./static from disk)")
	configPath = flag.String("config", "", "Path to JSON config file")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	port       = flag.String("port", "", "Serial port to use (overrides config)")
	simulated  = flag.Bool("sim", false, "Start a simulated gauge run on boot")
	dbPath     = flag.String("db", "", "Path to sqlite database (overrides config)")
	unit       = flag.String("unit", "", "Pressure unit for the run (overrides config)")
	autostart  = flag.Bool("autostart", false, "Start sampling on boot using the configured port")
)

func loadConfig() *config.GaugeConfig {
	if *configPath == "" {
		return config.EmptyGaugeConfig()
	}
	cfg, err := config.LoadGaugeConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config %s: %v", *configPath, err)
	}
	return cfg
}

func runMigrateCommand(store *db.Store, action string) {
	switch action {
	case "up":
		if err := store.MigrateUp(); err != nil {
			log.Fatalf("migration up failed: %v", err)
		}
		log.Println("all migrations applied")
	case "down":
		if err := store.MigrateDown(); err != nil {
			log.Fatalf("migration down failed: %v", err)
		}
		log.Println("rolled back one migration")
	case "status":
		version, dirty, err := store.MigrateVersion()
		if err != nil {
			log.Fatalf("failed to read migration status: %v", err)
		}
		fmt.Printf("schema version: %d (dirty: %v)\n", version, dirty)
	default:
		log.Fatalf("unknown migrate action %q: expected up, down, or status", action)
	}
}

func main() {
	// .env is optional; real deployments set variables in the unit file.
	_ = godotenv.Load()
	flag.Parse()

	log.Printf("pressure.report %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	cfg := loadConfig()
	if *listen == "" {
		*listen = cfg.GetListen()
	}
	if *port == "" {
		*port = cfg.GetSerialPort()
	}
	if *dbPath == "" {
		*dbPath = cfg.GetDatabasePath()
	}
	if *unit == "" {
		*unit = cfg.GetUnit()
	}

	store, err := db.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database %s: %v", *dbPath, err)
	}
	defer store.Close()

	if args := flag.Args(); len(args) > 0 && args[0] == "migrate" {
		if len(args) < 2 {
			log.Fatal("usage: gauge migrate <up|down|status>")
		}
		runMigrateCommand(store, args[1])
		return
	}

	current, err := store.SchemaCurrent()
	if err != nil {
		log.Fatalf("failed to check schema version: %v", err)
	}
	if !current {
		log.Printf("database schema out of date, applying migrations")
		if err := store.MigrateUp(); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
	}

	var publisher control.Publisher
	if broker := cfg.GetMQTTBroker(); broker != "" {
		p, err := mqttpub.Connect(mqttpub.Config{
			BrokerURL:   broker,
			ClientID:    cfg.GetMQTTClientID(),
			TopicPrefix: cfg.GetMQTTTopicPrefix(),
			Username:    cfg.GetMQTTUsername(),
			Password:    cfg.GetMQTTPassword(),
		})
		if err != nil {
			log.Fatalf("failed to connect to MQTT broker: %v", err)
		}
		defer p.Close()
		publisher = p
		log.Printf("publishing samples to %s under %s/", broker, cfg.GetMQTTTopicPrefix())
	}

	ctrl := control.New(control.Config{
		LogDir:    cfg.GetLogDir(),
		Store:     store,
		Publisher: publisher,
		Factory:   serialport.RealFactory{ReadTimeout: cfg.GetReadTimeout()},
	})

	switch {
	case *simulated || cfg.GetSimulated():
		err := ctrl.StartSimulated(control.SimulatedConfig{
			Sim:          quantum.SimConfig{Noise: cfg.GetSimNoise()},
			PollInterval: cfg.GetPollInterval(),
			Unit:         *unit,
		})
		if err != nil {
			log.Fatalf("failed to start simulated run: %v", err)
		}
		log.Printf("started simulated gauge run in %s", *unit)
	case *autostart:
		if *port == "" {
			log.Fatal("autostart requires a serial port (-port or config)")
		}
		err := ctrl.StartReal(control.RealConfig{
			Port:         *port,
			Options:      serialport.Options{BaudRate: cfg.GetBaudRate()},
			Address:      cfg.GetAddress(),
			PollInterval: cfg.GetPollInterval(),
			Unit:         *unit,
			ReadTimeout:  cfg.GetReadTimeout(),
			PollDelay:    cfg.GetPollDelay(),
		})
		if err != nil {
			log.Fatalf("failed to start gauge run on %s: %v", *port, err)
		}
		log.Printf("started gauge run on %s in %s", *port, *unit)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(ctrl, store).ServeMux()
		if err := store.AttachAdminRoutes(mux); err != nil {
			log.Fatalf("failed to attach admin routes: %v", err)
		}

		// Serve static files from disk in dev for iteration without a
		// rebuild; from the embedded filesystem otherwise.
		var staticHandler http.Handler
		if *devMode {
			staticHandler = http.FileServer(http.Dir("./static"))
		} else {
			sub, err := fs.Sub(report.StaticFiles, "static")
			if err != nil {
				log.Fatalf("failed to open embedded static files: %v", err)
			}
			staticHandler = http.FileServer(http.FS(sub))
		}
		mux.Handle("/", staticHandler)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
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
				log.Printf("HTTP server close error: %v", err)
			}
		}
	}()

	<-ctx.Done()
	wg.Wait()

	if err := ctrl.Stop(); err != nil && err != control.ErrNotRunning {
		log.Printf("failed to stop sampling: %v", err)
	}
	log.Println("shutdown complete")
	os.Exit(0)
}
