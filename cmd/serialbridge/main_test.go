package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-serial/internal/api"
	"github.com/nerrad567/gray-logic-serial/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-serial/internal/infrastructure/logging"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_NoDevices verifies validation rejects a config without devices.
func TestRun_NoDevices(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", writeTestConfig(t, `
site:
  id: test-site
serial:
  devices: []
`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail without devices")
	}
}

// TestRun_SimulatedDevices starts the bridge against simulated ports and
// shuts down cleanly when the context ends.
func TestRun_SimulatedDevices(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "serial.db")
	t.Setenv("GRAYLOGIC_CONFIG", writeTestConfig(t, `
site:
  id: test-site
serial:
  devices:
    - id: controller_001
      port: "sim://controller_001"
    - id: ele_001
      port: "sim://ele_001"
routing:
  default_timeout: 2s
  sweep_interval: 100ms
sink:
  backends: [sqlite]
database:
  path: "`+dbPath+`"
  wal_mode: true
  busy_timeout: 5
mqtt:
  enabled: false
metrics:
  enabled: false
logging:
  level: error
  format: text
  output: stdout
`))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

// TestRun_UnopenablePorts verifies run fails when no device port opens.
func TestRun_UnopenablePorts(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", writeTestConfig(t, `
serial:
  devices:
    - id: ele_001
      port: "/nonexistent/ttyTEST0"
sink:
  backends: []
logging:
  level: error
  output: stdout
`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail when no port opens")
	}
}

// TestGetConfigPath verifies config path resolution.
func TestGetConfigPath(t *testing.T) {
	t.Run("default path", func(t *testing.T) {
		t.Setenv("GRAYLOGIC_CONFIG", "")
		if got := getConfigPath(); got != defaultConfigPath {
			t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
		}
	})

	t.Run("env override", func(t *testing.T) {
		t.Setenv("GRAYLOGIC_CONFIG", "/custom/config.yaml")
		if got := getConfigPath(); got != "/custom/config.yaml" {
			t.Errorf("getConfigPath() = %q, want %q", got, "/custom/config.yaml")
		}
	})
}

func TestBridgeID(t *testing.T) {
	cfg := &config.Config{}
	if got := bridgeID(cfg); got != "serial" {
		t.Errorf("bridgeID() = %q, want %q", got, "serial")
	}
	cfg.Site.ID = "plant-a"
	if got := bridgeID(cfg); got != "serial-plant-a" {
		t.Errorf("bridgeID() = %q, want %q", got, "serial-plant-a")
	}
}

// TestDeviceConfigs verifies configuration order is preserved, since it
// decides ambiguous prefix resolution.
func TestDeviceConfigs(t *testing.T) {
	got := deviceConfigs([]config.DeviceConfig{
		{ID: "ele_001", Port: "/dev/ttyACM0"},
		{ID: "ele_0", Port: "sim://ele_0"},
	})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "ele_001" || got[0].Address != "/dev/ttyACM0" {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].ID != "ele_0" || got[1].Address != "sim://ele_0" {
		t.Errorf("got[1] = %+v", got[1])
	}
}

func TestOpenStores(t *testing.T) {
	log := logging.NewWithWriter(os.Stderr, config.LoggingConfig{Level: "error", Format: "text"}, "test")
	ctx := context.Background()

	t.Run("no backends", func(t *testing.T) {
		st, err := openStores(ctx, &config.Config{}, log, nil, nil)
		if err != nil {
			t.Fatalf("openStores() error = %v", err)
		}
		defer st.close(log)
		if st.sink != nil {
			t.Error("sink should be nil without backends")
		}
	})

	t.Run("websocket hub only", func(t *testing.T) {
		hub := api.NewHub(config.WebSocketConfig{}, log)
		st, err := openStores(ctx, &config.Config{}, log, nil, hub)
		if err != nil {
			t.Fatalf("openStores() error = %v", err)
		}
		defer st.close(log)
		if st.sink == nil {
			t.Fatal("sink should be set when the hub is present")
		}
		if len(st.names) != 1 || st.names[0] != "websocket" {
			t.Errorf("names = %v, want [websocket]", st.names)
		}
		if len(st.observers) != 1 {
			t.Errorf("observers = %d, want 1", len(st.observers))
		}
	})

	t.Run("mqtt without client", func(t *testing.T) {
		cfg := &config.Config{Sink: config.SinkConfig{Backends: []string{config.SinkMQTT}}}
		st, err := openStores(ctx, cfg, log, nil, nil)
		defer st.close(log)
		if err == nil {
			t.Fatal("openStores() should fail without an MQTT client")
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := &config.Config{
			Sink:     config.SinkConfig{Backends: []string{config.SinkSQLite}},
			Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "serial.db"), BusyTimeout: 5},
		}
		st, err := openStores(ctx, cfg, log, nil, nil)
		defer st.close(log)
		if err != nil {
			t.Fatalf("openStores() error = %v", err)
		}
		if st.sink == nil {
			t.Fatal("sink should be set")
		}
		if len(st.observers) != 1 {
			t.Errorf("observers = %d, want 1", len(st.observers))
		}
		if err := st.sink.Record(ctx, "ele_001", "SEN", "ele_001_temp", "21.5"); err != nil {
			t.Errorf("Record() error = %v", err)
		}
		if err := healthCheck(ctx, st, nil, nil); err != nil {
			t.Errorf("healthCheck() error = %v", err)
		}
	})
}
