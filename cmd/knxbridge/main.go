// knxbridge exposes KNX accessories (switches, fans, blinds, thermostats and
// sensors) over MQTT. It talks to the bus through knxd, and can record the
// addresses it sees to SQLite and bus traffic to InfluxDB.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/knxbridge/internal/accessory"
	"github.com/nerrad567/knxbridge/internal/busclient"
	"github.com/nerrad567/knxbridge/internal/exposure"
	"github.com/nerrad567/knxbridge/internal/infrastructure/config"
	"github.com/nerrad567/knxbridge/internal/infrastructure/database"
	"github.com/nerrad567/knxbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/knxbridge/internal/infrastructure/logging"
	"github.com/nerrad567/knxbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/knxbridge/internal/knx"
	"github.com/nerrad567/knxbridge/internal/recorder"
	"github.com/nerrad567/knxbridge/internal/telemetry"
	"github.com/nerrad567/knxbridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
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

// run starts every component, blocks until ctx is cancelled and then shuts
// down in reverse order through the deferred closes.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting knxbridge", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version).With("bridge", cfg.Bridge.ID)
	log.Info("configuration loaded",
		"path", configPath,
		"accessories", cfg.Accessories.Count(),
		"level", cfg.Logging.Level,
	)

	var (
		sinks    accessory.Sinks
		influx   *influxdb.Client
		db       *database.DB
		observer []busclient.Observer
	)

	if cfg.InfluxDB.Enabled {
		influx, err = influxdb.Connect(cfg.InfluxDB, map[string]string{"bridge": cfg.Bridge.ID})
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influx.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influx.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "org", cfg.InfluxDB.Org, "bucket", cfg.InfluxDB.Bucket)

		tel := telemetry.New(influx)
		observer = append(observer, tel)
		sinks = append(sinks, tel)
	} else {
		log.Info("InfluxDB disabled")
	}

	if cfg.Recorder.Enabled {
		db, err = openDatabase(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		rec := recorder.New(db.DB)
		rec.SetLogger(log.Component("recorder"))
		if err := rec.Start(ctx); err != nil {
			return fmt.Errorf("starting address recorder: %w", err)
		}
		defer rec.Stop()
		observer = append(observer, rec)
		log.Info("address recorder enabled", "path", cfg.Database.Path)
	}

	bus, err := connectBus(ctx, cfg, log, observer)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing bus client")
		if closeErr := bus.Close(); closeErr != nil {
			log.Error("error closing bus client", "error", closeErr)
		}
	}()

	var (
		mqttClient *mqtt.Client
		bridge     *exposure.Bridge
	)
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(ctx, cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		bridge, err = exposure.New(exposure.Options{
			BridgeID:       cfg.Bridge.ID,
			Version:        version,
			GatewayAddress: cfg.Gateway.GatewayURL(),
			Topics:         mqttClient.Topics(),
			QoS:            byte(cfg.MQTT.QoS), //nolint:gosec // validated 0-2
			HealthInterval: cfg.GetHealthInterval(),
			MQTT:           mqttClient,
			Bus:            bus,
			Logger:         log.Component("exposure"),
		})
		if err != nil {
			return fmt.Errorf("creating exposure: %w", err)
		}
		sinks = append(sinks, bridge)
	} else {
		log.Info("MQTT disabled, accessories are not exposed")
	}

	registry, err := accessory.NewRegistry(cfg.Accessories, accessory.Deps{
		Bus:    bus,
		Sink:   sinks,
		Logger: log.Component("accessory"),
	})
	if err != nil {
		return fmt.Errorf("creating accessories: %w", err)
	}
	log.Info("accessories created", "count", registry.Len())

	if bridge != nil {
		if err := bridge.Start(ctx, registry); err != nil {
			return fmt.Errorf("starting exposure: %w", err)
		}
		defer bridge.Stop()
	}

	if err := healthCheck(ctx, db, mqttClient, influx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// getConfigPath returns KNXBRIDGE_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("KNXBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// connectBus creates the bus client, registers observers before the monitor
// attaches and connects. The initial connection is not retried.
func connectBus(ctx context.Context, cfg *config.Config, log *logging.Logger, observers []busclient.Observer) (*busclient.Client, error) {
	dialer, err := knx.ParseDialer(cfg.Gateway.GatewayURL())
	if err != nil {
		return nil, fmt.Errorf("parsing gateway address: %w", err)
	}
	dialer.SetLogger(log.Component("knxd"))

	connectTimeout, requestTimeout, readTimeout := cfg.Gateway.Timeouts()
	bus := busclient.New(busclient.KNXD(dialer), busclient.Config{
		ReconnectDelay: cfg.Gateway.ReconnectDelay(),
		ConnectTimeout: connectTimeout,
		RequestTimeout: requestTimeout,
		ReadTimeout:    readTimeout,
		LogBusTraffic:  cfg.Debug.LogBusTraffic,
	})
	bus.SetLogger(log.Component("busclient"))
	for _, o := range observers {
		bus.AddObserver(o)
	}

	if err := bus.Connect(ctx); err != nil {
		bus.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("connecting to gateway %s: %w", dialer, err)
	}
	log.Info("gateway attached", "gateway", dialer.String())
	return bus, nil
}

// healthCheck verifies the optional stores are reachable. Bus and MQTT
// connectivity were established synchronously above.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influx *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influx != nil {
		if err := influx.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
