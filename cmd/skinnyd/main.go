// skinnyd is an SCCP endpoint controller: it registers Cisco skinny
// phones, routes calls between them and bridges state onto MQTT.
//
// Configuration comes from config.yaml (infrastructure) and skinny.conf
// (telephony). See configs/ for annotated examples.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/coppervoice/skinnyd/internal/cdr"
	"github.com/coppervoice/skinnyd/internal/cli"
	"github.com/coppervoice/skinnyd/internal/events"
	"github.com/coppervoice/skinnyd/internal/infrastructure/config"
	"github.com/coppervoice/skinnyd/internal/infrastructure/logging"
	"github.com/coppervoice/skinnyd/internal/infrastructure/mqtt"
	"github.com/coppervoice/skinnyd/internal/server"
	"github.com/coppervoice/skinnyd/internal/skinnyconf"
	"github.com/coppervoice/skinnyd/internal/telemetry"
)

// Version information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// .env before config so SKINNYD_* overrides from the file apply.
	// A missing .env is not an error.
	_ = godotenv.Load()

	log := logging.Default()
	log.Info("starting skinnyd", "version", version, "commit", commit)

	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath())

	skinny, err := skinnyconf.Load(cfg.SkinnyConf)
	if err != nil {
		return fmt.Errorf("loading skinny.conf: %w", err)
	}
	log.Info("telephony configuration loaded",
		"path", cfg.SkinnyConf,
		"lines", len(skinny.Lines),
		"devices", len(skinny.Devices),
	)

	// MQTT is optional; without it the event surfaces are no-ops.
	var publisher *events.Publisher
	if cfg.MQTT.Enabled {
		mqttClient, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		publisher = events.NewPublisher(mqttClient)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Call records land in SQLite when enabled.
	var cdrStore *cdr.Store
	if cfg.CDR.Enabled {
		cdrStore, err = cdr.Open(cfg.CDR)
		if err != nil {
			return fmt.Errorf("opening CDR store: %w", err)
		}
		defer func() {
			log.Info("closing CDR store")
			if closeErr := cdrStore.Close(); closeErr != nil {
				log.Error("error closing CDR store", "error", closeErr)
			}
		}()
		log.Info("CDR store open", "path", cdrStore.Path())
	} else {
		log.Info("CDR disabled")
	}

	// Telemetry ships counters to InfluxDB when enabled.
	var tele *telemetry.Writer
	if cfg.Telemetry.Enabled {
		tele, err = telemetry.Connect(cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("connecting telemetry: %w", err)
		}
		defer func() {
			log.Info("closing telemetry")
			if closeErr := tele.Close(); closeErr != nil {
				log.Error("error closing telemetry", "error", closeErr)
			}
		}()
		tele.SetOnError(func(err error) { log.Error("telemetry write error", "error", err) })
		log.Info("telemetry connected", "url", cfg.Telemetry.URL)
	} else {
		log.Info("telemetry disabled")
	}

	ctrl, err := server.New(server.Options{
		Config:    cfg,
		Skinny:    skinny,
		Events:    publisher,
		Telemetry: tele,
		CDR:       cdrStore,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("building controller: %w", err)
	}

	if err := healthCheck(ctx, cdrStore, tele); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(ctx) })

	if cfg.CLI.Enabled {
		console := cli.New(cli.Options{
			Controller: ctrl,
			Logger:     log,
			LogLevel:   cfg.Logging.Level,
		})
		if err := console.Listen(cfg.CLI.Listen); err != nil {
			ctrl.Shutdown()
			return err
		}
		g.Go(func() error { return console.Serve(ctx) })
	} else {
		log.Info("console disabled")
	}

	log.Info("initialisation complete")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("skinnyd stopped")
	return nil
}

// configPath returns the configuration file path, honouring
// SKINNYD_CONFIG.
func configPath() string {
	if path := os.Getenv("SKINNYD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the optional stores before accepting phones.
func healthCheck(ctx context.Context, cdrStore *cdr.Store, tele *telemetry.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if cdrStore != nil {
		if err := cdrStore.HealthCheck(ctx); err != nil {
			return fmt.Errorf("cdr: %w", err)
		}
	}
	if tele != nil {
		if err := tele.HealthCheck(ctx); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}
	return nil
}
