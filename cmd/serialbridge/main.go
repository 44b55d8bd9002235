// Gray Logic Serial - line device bridge
//
// This is the main entry point for the serial bridge. It opens one session
// per configured device port, routes CMD frames between devices, correlates
// ACKs and stores every reading in the configured sinks.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-serial/migrations"

	"github.com/nerrad567/gray-logic-serial/internal/api"
	"github.com/nerrad567/gray-logic-serial/internal/bridges/serial"
	"github.com/nerrad567/gray-logic-serial/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-serial/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-serial/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-serial/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-serial/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-serial/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-serial/internal/infrastructure/postgres"
	"github.com/nerrad567/gray-logic-serial/internal/logstore"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// shutdownTimeout bounds the metrics server drain.
	shutdownTimeout = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Serial",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log, err = logging.New(cfg.Logging, version)
	if err != nil {
		return fmt.Errorf("initialising logger: %w", err)
	}
	defer log.Close() //nolint:errcheck // nothing left to log to
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	registry := metrics.NewRegistry()
	bridgeMetrics, err := serial.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	// MQTT is optional: it carries manual commands, health and the mqtt sink.
	var mqttClient *mqtt.Client
	var mqttAdapter serial.MQTTClient
	if cfg.MQTT.Enabled {
		mqttClient, err = connectMQTT(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttAdapter = &mqttBridgeAdapter{client: mqttClient}
	} else {
		log.Info("MQTT disabled")
	}

	// The WebSocket hub is a sink and observer, so it exists before the bridge.
	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log)
	}

	st, err := openStores(ctx, cfg, log, mqttAdapter, hub)
	defer st.close(log)
	if err != nil {
		return err
	}

	bridge, err := serial.NewBridge(serial.BridgeOptions{
		BridgeID:        bridgeID(cfg),
		Version:         version,
		Devices:         deviceConfigs(cfg.Serial.Devices),
		Port:            serial.PortConfig{BaudRate: cfg.Serial.BaudRate, ReadTimeout: cfg.GetReadTimeout()},
		AllowSelfTarget: cfg.Routing.AllowSelfTarget,
		DefaultTimeout:  cfg.Routing.DefaultTimeout,
		SweepInterval:   cfg.Routing.SweepInterval,
		MailboxSize:     cfg.Routing.MailboxSize,
		SinkTimeout:     cfg.Routing.SinkTimeout,
		Sink:            st.sink,
		Observers:       st.observers,
		MQTTClient:      mqttAdapter,
		HealthInterval:  cfg.GetHealthInterval(),
		Logger:          log,
		Metrics:         bridgeMetrics,
	})
	if err != nil {
		return fmt.Errorf("creating serial bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting serial bridge: %w", err)
	}
	defer func() {
		log.Info("stopping serial bridge")
		bridge.Stop()
	}()
	log.Info("readings routed to sinks", "sinks", st.names)

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path, registry, log)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("starting metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
				log.Error("error stopping metrics server", "error", shutdownErr)
			}
		}()
		log.Info("metrics server listening", "addr", srv.Addr(), "path", cfg.Metrics.Path)
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log,
			Bridge:  bridge,
			Hub:     hub,
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, st, mqttClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API, metrics server, bridge, stores, MQTT.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// bridgeID names the bridge in health messages.
func bridgeID(cfg *config.Config) string {
	if cfg.Site.ID == "" {
		return serial.ProtocolName
	}
	return serial.ProtocolName + "-" + cfg.Site.ID
}

// deviceConfigs converts configured devices, preserving order.
func deviceConfigs(devices []config.DeviceConfig) []serial.DeviceConfig {
	out := make([]serial.DeviceConfig, 0, len(devices))
	for _, d := range devices {
		out = append(out, serial.DeviceConfig{ID: d.ID, Address: d.Port})
	}
	return out
}

// connectMQTT dials the broker with the bridge's offline LWT registered.
func connectMQTT(ctx context.Context, cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	lwt, err := json.Marshal(serial.NewLWTMessage(bridgeID(cfg)))
	if err != nil {
		return nil, fmt.Errorf("marshal LWT: %w", err)
	}

	client, err := mqtt.Connect(ctx, cfg.MQTT,
		mqtt.WithWill(mqtt.Will{Topic: serial.HealthTopic(), Payload: lwt, QoS: 1}),
		mqtt.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	return client, nil
}

// stores collects the reading sinks and outcome observers built from
// sink.backends, plus the connections behind them.
type stores struct {
	sink      serial.Sink
	names     []string
	observers []serial.OutcomeObserver

	db     *database.DB
	pool   *postgres.Pool
	influx *influxdb.Client
}

// openStores connects every backend listed in sink.backends and adds the
// WebSocket hub when the API is enabled. On error the returned stores still
// holds whatever was opened so the caller can close it.
func openStores(ctx context.Context, cfg *config.Config, log *logging.Logger, mqttClient serial.MQTTClient, hub *api.Hub) (*stores, error) {
	st := &stores{}
	var named []logstore.NamedSink

	for _, backend := range cfg.Sink.Backends {
		switch backend {
		case config.SinkSQLite:
			db, err := database.Open(ctx, database.Config{
				Path:        cfg.Database.Path,
				WALMode:     cfg.Database.WALMode,
				BusyTimeout: cfg.Database.BusyTimeout,
			})
			if err != nil {
				return st, fmt.Errorf("opening database: %w", err)
			}
			st.db = db
			log.Info("database connected", "path", cfg.Database.Path)

			if err := db.Migrate(ctx); err != nil {
				return st, fmt.Errorf("running migrations: %w", err)
			}
			log.Info("database migrations complete")

			store := logstore.NewSQLiteStore(db, log)
			named = append(named, logstore.NamedSink{Name: backend, Sink: store})
			st.observers = append(st.observers, store.Observer())

		case config.SinkPostgres:
			pool, err := postgres.Connect(ctx, cfg.Postgres, cfg.GetPostgresConnectTimeout())
			if err != nil {
				return st, fmt.Errorf("connecting to PostgreSQL: %w", err)
			}
			st.pool = pool
			log.Info("PostgreSQL connected",
				"host", cfg.Postgres.Host,
				"database", cfg.Postgres.Database,
			)

			store := logstore.NewPostgresStore(pool, log)
			if err := store.EnsureSchema(ctx); err != nil {
				return st, fmt.Errorf("preparing PostgreSQL schema: %w", err)
			}
			named = append(named, logstore.NamedSink{Name: backend, Sink: store})
			st.observers = append(st.observers, store.Observer())

		case config.SinkInfluxDB:
			client, err := influxdb.Connect(ctx, cfg.InfluxDB)
			if err != nil {
				return st, fmt.Errorf("connecting to InfluxDB: %w", err)
			}
			st.influx = client
			log.Info("InfluxDB connected",
				"url", cfg.InfluxDB.URL,
				"org", cfg.InfluxDB.Org,
				"bucket", cfg.InfluxDB.Bucket,
			)
			client.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
			})

			store := logstore.NewInfluxStore(client)
			named = append(named, logstore.NamedSink{Name: backend, Sink: store})
			st.observers = append(st.observers, store)

		case config.SinkMQTT:
			if mqttClient == nil {
				return st, errors.New("mqtt sink requires mqtt.enabled")
			}
			pub := serial.NewPublisher(mqttClient, log)
			named = append(named, logstore.NamedSink{Name: backend, Sink: pub})
			st.observers = append(st.observers, pub)

		default:
			return st, fmt.Errorf("unknown sink backend %q", backend)
		}
		st.names = append(st.names, backend)
	}

	if hub != nil {
		named = append(named, logstore.NamedSink{Name: "websocket", Sink: hub})
		st.observers = append(st.observers, hub)
		st.names = append(st.names, "websocket")
	}

	if len(named) == 0 {
		log.Warn("no sink backends configured, readings are not stored")
		return st, nil
	}
	sink, err := logstore.NewMultiSink(log, named...)
	if err != nil {
		return st, fmt.Errorf("creating sink: %w", err)
	}
	st.sink = sink
	return st, nil
}

// close releases every opened backend. Safe on a partially opened set.
func (s *stores) close(log *logging.Logger) {
	if s.influx != nil {
		log.Info("closing InfluxDB connection")
		if err := s.influx.Close(); err != nil {
			log.Error("error closing InfluxDB", "error", err)
		}
	}
	if s.pool != nil {
		log.Info("closing PostgreSQL pool")
		s.pool.Close()
	}
	if s.db != nil {
		log.Info("closing database")
		if err := s.db.Close(); err != nil {
			log.Error("error closing database", "error", err)
		}
	}
}

// healthCheck verifies every opened connection.
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, st *stores, mqttClient *mqtt.Client, apiServer *api.Server) error {
	if st.db != nil {
		if err := st.db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if st.pool != nil {
		if err := st.pool.HealthCheck(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if st.influx != nil {
		if err := st.influx.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if apiServer != nil {
		if err := apiServer.HealthCheck(ctx); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}
	// Serial ports are verified by NewBridge: it fails unless at least one
	// port opened.
	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the serial
// bridge's MQTTClient interface. The difference is the Subscribe handler
// signature:
//   - Infrastructure mqtt: func(topic, payload []byte) error
//   - Serial bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements serial.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements serial.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements serial.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
