package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	if cfg.Window() != 10*time.Millisecond {
		t.Errorf("expected 10ms window, got %v", cfg.Window())
	}
	if cfg.SaveMarkerInterval() != time.Minute {
		t.Errorf("expected 1m save marker interval, got %v", cfg.SaveMarkerInterval())
	}
	if !cfg.Playback.SkipIrrelevant {
		t.Error("expected skip_irrelevant by default")
	}

	root := filepath.Join("home", "proj")
	if got, want := cfg.StoragePath(root), filepath.Join(root, StateDirName, "events.db"); got != want {
		t.Errorf("storage path: got %s, want %s", got, want)
	}
	if got := ConfigPath(root); !strings.HasSuffix(got, filepath.Join(StateDirName, "config.toml")) {
		t.Errorf("unexpected config path %s", got)
	}
}

func TestAbsoluteStoragePath(t *testing.T) {
	cfg := DefaultConfig()
	abs := filepath.Join(t.TempDir(), "elsewhere.db")
	cfg.Storage.Path = abs
	if got := cfg.StoragePath("/proj"); got != abs {
		t.Errorf("absolute path rewritten: %s", got)
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Capture.WindowMs != 10 {
		t.Errorf("expected window 10, got %d", cfg.Capture.WindowMs)
	}
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"toml", "config.toml", "[capture]\nwindow_ms = 25\n\n[storage]\ntype = \"wal\"\npath = \"events.wal\"\n"},
		{"json", "config.json", `{"capture": {"window_ms": 25}, "storage": {"type": "wal", "path": "events.wal"}}`},
		{"yaml", "config.yaml", "capture:\n  window_ms: 25\nstorage:\n  type: wal\n  path: events.wal\n"},
		{"no extension", "config", "[capture]\nwindow_ms = 25\n[storage]\ntype = \"wal\"\npath = \"events.wal\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.Capture.WindowMs != 25 {
				t.Errorf("expected window 25, got %d", cfg.Capture.WindowMs)
			}
			if cfg.Storage.Type != "wal" {
				t.Errorf("expected wal storage, got %s", cfg.Storage.Type)
			}
			// Unset fields keep their defaults.
			if cfg.Logging.Level != "info" {
				t.Errorf("expected default log level, got %s", cfg.Logging.Level)
			}
		})
	}
}

func TestLoadInvalidSyntax(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[capture\nwindow_ms = "), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected decode error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STORYTELLER_STORAGE_TYPE", "postgres")
	t.Setenv("STORYTELLER_STORAGE_DSN", "postgres://localhost/story")
	t.Setenv("STORYTELLER_CAPTURE_WINDOW_MS", "40")
	t.Setenv("STORYTELLER_LOG_LEVEL", "debug")
	t.Setenv("STORYTELLER_LOG_PATH", "/tmp/story.log")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Storage.Type != "postgres" || cfg.Storage.DSN != "postgres://localhost/story" {
		t.Errorf("storage overrides not applied: %+v", cfg.Storage)
	}
	if cfg.Capture.WindowMs != 40 {
		t.Errorf("expected window 40, got %d", cfg.Capture.WindowMs)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Output != "file" || cfg.Logging.FilePath != "/tmp/story.log" {
		t.Errorf("logging overrides not applied: %+v", cfg.Logging)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("overridden config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"version", func(c *Config) { c.Version = 9 }, "version"},
		{"window too small", func(c *Config) { c.Capture.WindowMs = 0 }, "capture.window_ms"},
		{"window too large", func(c *Config) { c.Capture.WindowMs = 5001 }, "capture.window_ms"},
		{"negative interval", func(c *Config) { c.Capture.SaveMarkerIntervalSec = -1 }, "capture.save_marker_interval_sec"},
		{"bad glob", func(c *Config) { c.Capture.Ignore = []string{"[abc"} }, "capture.ignore[0]"},
		{"storage type", func(c *Config) { c.Storage.Type = "floppy" }, "storage.type"},
		{"sqlite path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"postgres dsn", func(c *Config) { c.Storage.Type = "postgres" }, "storage.dsn"},
		{"policy", func(c *Config) { c.Reconcile.Untracked = "recreate" }, "reconcile.untracked"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"log output", func(c *Config) { c.Logging.Output = "printer" }, "logging.output"},
		{"log file", func(c *Config) { c.Logging.Output = "file"; c.Logging.FilePath = "" }, "logging.file_path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T", err)
			}
			found := false
			for _, v := range verrs {
				if v.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s, got %v", tt.field, verrs)
			}
		})
	}
}

func TestWindowBounds(t *testing.T) {
	for _, ms := range []int{MinWindowMs, 10, MaxWindowMs} {
		cfg := DefaultConfig()
		cfg.Capture.WindowMs = ms
		if err := cfg.Validate(); err != nil {
			t.Errorf("window %d rejected: %v", ms, err)
		}
	}
}

func TestSaveAndReload(t *testing.T) {
	for _, ext := range []string{".toml", ".json", ".yaml"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "config"+ext)
			cfg := DefaultConfig()
			cfg.Project.Name = "demo"
			cfg.Capture.Ignore = []string{"*.log"}
			cfg.Reconcile.Missing = "accept-delete"

			if err := SaveConfig(cfg, path); err != nil {
				t.Fatalf("SaveConfig failed: %v", err)
			}
			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if loaded.Project.Name != "demo" {
				t.Errorf("name lost: %q", loaded.Project.Name)
			}
			if len(loaded.Capture.Ignore) != 1 || loaded.Capture.Ignore[0] != "*.log" {
				t.Errorf("ignore lost: %v", loaded.Capture.Ignore)
			}
			if loaded.Reconcile.Missing != "accept-delete" {
				t.Errorf("policy lost: %s", loaded.Reconcile.Missing)
			}
		})
	}
}

func TestProjectLoaderLayers(t *testing.T) {
	userDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", userDir)
	t.Setenv("HOME", userDir)
	t.Setenv("APPDATA", userDir)

	user := DefaultConfig()
	user.Logging.Level = "debug"
	user.Capture.WindowMs = 50
	if err := SaveConfig(user, filepath.Join(PlatformConfigDir(), "config.toml")); err != nil {
		t.Fatal(err)
	}

	root := t.TempDir()
	if err := os.MkdirAll(StateDir(root), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(StateDir(root), "config.yaml"), []byte("capture:\n  window_ms: 30\n"), 0600); err != nil {
		t.Fatal(err)
	}

	loader := NewProjectLoader(root)
	defer loader.Close()
	if filepath.Base(loader.Path()) != "config.yaml" {
		t.Errorf("expected project yaml, got %s", loader.Path())
	}
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Capture.WindowMs != 30 {
		t.Errorf("project should override user window, got %d", cfg.Capture.WindowMs)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("user layer lost, level %s", cfg.Logging.Level)
	}
	if loader.Config() != cfg {
		t.Error("Config should return the loaded config")
	}
}

func TestWatchReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := SaveConfig(DefaultConfig(), path); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path)
	defer loader.Close()
	if _, err := loader.Load(); err != nil {
		t.Fatal(err)
	}

	changed := make(chan *Config, 1)
	loader.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})
	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Capture.WindowMs = 77
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changed:
		if c.Capture.WindowMs != 77 {
			t.Errorf("expected reloaded window 77, got %d", c.Capture.WindowMs)
		}
	case err := <-loader.Errors():
		t.Fatalf("watch error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Capture.Ignore[0] = "changed"
	if cfg.Capture.Ignore[0] == "changed" {
		t.Error("Clone shares the ignore slice")
	}
}

func TestEnsureDirectories(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.Logging.Output = "file"
	cfg.Logging.FilePath = filepath.Join("logs", "story.log")
	if err := cfg.EnsureDirectories(root); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{StateDir(root), filepath.Join(StateDir(root), "logs")} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s", dir)
		}
	}
}
