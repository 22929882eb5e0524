package confloader

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

type testConfig struct {
	Server struct {
		HTTP struct {
			Addr    string `koanf:"addr"`
			Enabled bool   `koanf:"enabled"`
		} `koanf:"http"`
	} `koanf:"server"`
	Storage struct {
		DataDir    string        `koanf:"data_dir"`
		GCInterval time.Duration `koanf:"gc_interval"`
	} `koanf:"storage"`
	Cluster struct {
		Seeds []string `koanf:"seeds"`
	} `koanf:"cluster"`
	internal string
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestNewLoader(t *testing.T) {
	l := NewLoader()
	if l.envPrefix != DefaultEnvPrefix {
		t.Errorf("envPrefix = %q, want %q", l.envPrefix, DefaultEnvPrefix)
	}

	l = NewLoader(WithEnvPrefix("TEST_"), WithConfigFile("/path/to/config.yaml"))
	if l.envPrefix != "TEST_" {
		t.Errorf("envPrefix = %q, want %q", l.envPrefix, "TEST_")
	}
	if l.FilePath() != "/path/to/config.yaml" {
		t.Errorf("FilePath() = %q", l.FilePath())
	}
}

func TestStructKeys(t *testing.T) {
	got := StructKeys(&testConfig{})
	want := []string{
		"server.http.addr",
		"server.http.enabled",
		"storage.data_dir",
		"storage.gc_interval",
		"cluster.seeds",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("StructKeys() = %v, want %v", got, want)
	}

	if keys := StructKeys(42); keys != nil {
		t.Errorf("StructKeys(int) = %v, want nil", keys)
	}
}

func TestLoader_LoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  http:
    addr: "0.0.0.0:5080"
    enabled: true
`)
	l := NewLoader()
	if err := l.LoadFile(path); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if addr := l.GetString("server.http.addr"); addr != "0.0.0.0:5080" {
		t.Errorf("server.http.addr = %q", addr)
	}
	if !l.GetBool("server.http.enabled") {
		t.Error("server.http.enabled should be true")
	}

	if err := l.LoadFile("/nonexistent/config.yaml"); err == nil {
		t.Error("LoadFile() should fail for a missing file")
	}
	if err := l.LoadFile(""); err != nil {
		t.Errorf("LoadFile(\"\") error = %v", err)
	}
}

func TestLoader_Load_Defaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  gc_interval: 5m
`)
	var cfg testConfig
	cfg.Server.HTTP.Addr = "127.0.0.1:5080"
	cfg.Storage.DataDir = "/var/lib/syncroom"

	l := NewLoader(WithConfigFile(path))
	if err := l.Load(&cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTP.Addr != "127.0.0.1:5080" {
		t.Errorf("Addr = %q, default should survive", cfg.Server.HTTP.Addr)
	}
	if cfg.Storage.GCInterval != 5*time.Minute {
		t.Errorf("GCInterval = %v, want 5m", cfg.Storage.GCInterval)
	}
	if !l.IsLoaded() {
		t.Error("IsLoaded() should be true after Load()")
	}
}

func TestLoader_Load_EnvPriority(t *testing.T) {
	path := writeConfig(t, `
server:
  http:
    addr: "from-file:5080"
storage:
  data_dir: /from/file
`)
	t.Setenv("SYNCROOM_SERVER_HTTP_ADDR", "from-env:8080")
	t.Setenv("SYNCROOM_STORAGE_DATA_DIR", "/from/env")
	t.Setenv("SYNCROOM_CLUSTER_SEEDS", "10.0.0.1:7946,10.0.0.2:7946")

	var cfg testConfig
	l := NewLoader(WithConfigFile(path))
	if err := l.Load(&cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTP.Addr != "from-env:8080" {
		t.Errorf("Addr = %q, env should override file", cfg.Server.HTTP.Addr)
	}
	if cfg.Storage.DataDir != "/from/env" {
		t.Errorf("DataDir = %q, underscore keys should resolve", cfg.Storage.DataDir)
	}
	if len(cfg.Cluster.Seeds) != 2 {
		t.Errorf("Seeds = %v, want two entries", cfg.Cluster.Seeds)
	}
}

func TestLoader_LoadEnv_UnknownKey(t *testing.T) {
	t.Setenv("MYAPP_SERVER_PORT", "9090")

	l := NewLoader(WithEnvPrefix("MYAPP_"))
	if err := l.LoadEnv(); err != nil {
		t.Fatalf("LoadEnv() error = %v", err)
	}
	if port := l.GetString("server.port"); port != "9090" {
		t.Errorf("server.port = %q, want %q", port, "9090")
	}
}

func TestLoader_Reload(t *testing.T) {
	path := writeConfig(t, `
server:
  http:
    addr: "first:1"
`)
	l := NewLoader(WithConfigFile(path))
	var cfg testConfig
	if err := l.Load(&cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("server:\n  http:\n    addr: \"second:2\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	var next testConfig
	if err := l.Reload(&next); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if next.Server.HTTP.Addr != "second:2" {
		t.Errorf("Addr after reload = %q", next.Server.HTTP.Addr)
	}
}

func TestLoader_LoadMap(t *testing.T) {
	l := NewLoader()
	err := l.LoadMap(map[string]any{
		"log": map[string]any{"level": "debug"},
		"port": 8080,
	})
	if err != nil {
		t.Fatalf("LoadMap() error = %v", err)
	}

	if lvl := l.GetString("log.level"); lvl != "debug" {
		t.Errorf("log.level = %q", lvl)
	}
	if port := l.GetInt("port"); port != 8080 {
		t.Errorf("GetInt(port) = %d, want 8080", port)
	}
	if len(l.Keys()) != 2 || len(l.All()) != 2 {
		t.Errorf("Keys() = %v", l.Keys())
	}
	if l.Get("missing") != nil {
		t.Error("Get(missing) should be nil")
	}
}
