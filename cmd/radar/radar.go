package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/banshee-data/ultrasonic.radar/internal/api"
	"github.com/banshee-data/ultrasonic.radar/internal/config"
	"github.com/banshee-data/ultrasonic.radar/internal/monitoring"
	"github.com/banshee-data/ultrasonic.radar/internal/render"
	"github.com/banshee-data/ultrasonic.radar/internal/sensor"
	"github.com/banshee-data/ultrasonic.radar/internal/serialmux"
	"github.com/banshee-data/ultrasonic.radar/internal/settings"
	"github.com/banshee-data/ultrasonic.radar/internal/version"
)

var (
	configPath       = flag.String("config", "", "Path to a .json or .yaml config file")
	devMode          = flag.Bool("dev", false, "Run against the synthetic sweep generator instead of a device")
	listen           = flag.String("listen", config.DefaultListen, "Listen address")
	port             = flag.String("port", "", "Serial port to use (ignored in dev mode)")
	baudRate         = flag.Int("baud", config.DefaultBaudRate, "Serial baud rate")
	frameSize        = flag.Int("frame-size", config.DefaultFrameSize, "Telemetry frame size on the serial link: 8 (minimal) or 24 (extended)")
	angleEncoding    = flag.String("angle-encoding", config.DefaultAngleEncoding, "Angle field encoding in telemetry frames: int32 or float32")
	mqttBroker       = flag.String("mqtt-broker", "", "MQTT broker address; telemetry is read from MQTT instead of serial when set")
	mqttTelemetry    = flag.String("mqtt-telemetry-topic", config.DefaultTelemetryTopic, "MQTT topic carrying telemetry frames")
	mqttSettings     = flag.String("mqtt-settings-topic", config.DefaultSettingsTopic, "MQTT topic settings frames are published to")
	filterOutOfRange = flag.Bool("filter-out-of-range", false, "Do not store negative (no target) distances in the sweep buffer")
	disableSerial    = flag.Bool("disable-serial", false, "Run without any telemetry link")
	syntheticStep    = flag.Float64("synthetic-step", config.DefaultSyntheticStepDeg, "Angle step in degrees for the synthetic generator")
	useOwner         = flag.Bool("owner", false, "Serialise state access through a single owner goroutine instead of a mutex")
	debug            = flag.Bool("debug", false, "Log every decoded sample")
	showVersion      = flag.Bool("version", false, "Print version and exit")
)

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Current())
		return
	}
	monitoring.EnableDebug(*debug)

	cfg, err := loadConfig(*configPath, setFlags())
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	ln, err := openLink(cfg, linkMode(cfg), serialmux.RealSerialPortFactory{})
	if err != nil {
		log.Fatalf("failed to open telemetry link: %v", err)
	}

	state := sensor.NewState(sensor.WithOutOfRangeFilter(cfg.GetFilterOutOfRange()))

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var applier sensor.Applier = state
	var snapshots sensor.Snapshotter = state
	if *useOwner {
		owner := sensor.NewOwner(state)
		applier, snapshots = owner, owner

		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = owner.Run(ctx)
			log.Print("state owner routine terminated")
		}()
	}

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ln.mux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		// the port went away underneath us
		if ctx.Err() == nil {
			stop()
		}
		log.Print("monitor routine terminated")
	}()

	if ln.source != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ln.source.Run(ctx, applier); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("telemetry source stopped: %v", err)
				// without telemetry there is nothing to show; shut down so a
				// supervisor can restart us
				stop()
			}
			log.Print("telemetry routine terminated")
		}()
	}

	var panel *settings.Panel
	if ln.sender != nil {
		panel = settings.NewPanel(ln.sender)
	}
	interval := cfg.GetRenderInterval()

	// keep the panel's pending values in step with what the device reports
	// until someone stages a change
	if panel != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					panel.Seed(snapshots.Snapshot().Config)
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	apiServer := api.NewServer(api.Config{
		State: snapshots,
		Panel: panel,
		Render: render.Options{
			ArcMin:          cfg.GetArcMinDeg(),
			ArcMax:          cfg.GetArcMaxDeg(),
			DistanceRange:   cfg.GetDistanceRange(),
			WarningDistance: cfg.GetWarningDistance(),
		},
		Interval: interval,
	})

	var shutdownErr error
	var shutdownMu sync.Mutex

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := apiServer.ServeMux()
		ln.mux.AttachAdminRoutes(mux)
		mux.Handle("/", http.RedirectHandler("/radar", http.StatusFound))

		server := &http.Server{
			Addr:              cfg.GetListen(),
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")
		apiServer.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			shutdownMu.Lock()
			shutdownErr = multierr.Append(shutdownErr, fmt.Errorf("http shutdown: %w", err))
			// Force close the server if graceful shutdown fails
			shutdownErr = multierr.Append(shutdownErr, server.Close())
			shutdownMu.Unlock()
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()

	if err := ln.mux.Close(); err != nil {
		shutdownErr = multierr.Append(shutdownErr, fmt.Errorf("close serial port: %w", err))
	}
	for _, err := range multierr.Errors(shutdownErr) {
		log.Printf("shutdown error: %v", err)
	}
	log.Printf("Graceful shutdown complete")
	if shutdownErr != nil {
		os.Exit(1)
	}
}
