package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dunamismax/pixelmark/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transform.PNGCompression != 3 {
		t.Fatalf("expected png compression 3, got %d", cfg.Transform.PNGCompression)
	}
	if cfg.Transform.DefaultQuality != 100 {
		t.Fatalf("expected default quality 100, got %d", cfg.Transform.DefaultQuality)
	}
	if cfg.Transform.DefaultFormat != domain.FormatJPEG || cfg.Transform.DefaultOrigin != domain.OriginLeftTop {
		t.Fatalf("unexpected transform defaults: %+v", cfg.Transform)
	}
	if cfg.Transform.MaxWatermarks != 8 {
		t.Fatalf("expected max watermarks 8, got %d", cfg.Transform.MaxWatermarks)
	}
	if cfg.API.RateLimit.Window != time.Minute {
		t.Fatalf("expected one minute window, got %s", cfg.API.RateLimit.Window)
	}
	if cfg.Storage.Backend != StorageBackendMinio {
		t.Fatalf("expected minio backend, got %s", cfg.Storage.Backend)
	}
}

func TestLoadLayersEnvFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "default.env"), "PNG_COMPRESSION=5\nDEFAULT_QUALITY=80\nDEFAULT_ORIGIN=center\n")
	writeFile(t, filepath.Join(dir, "staging.env"), "PNG_COMPRESSION=7\nDEFAULT_FORMAT=webp\n")

	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("RUN_MODE", "staging")
	t.Setenv("DEFAULT_QUALITY", "60")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transform.PNGCompression != 7 {
		t.Fatalf("run mode file should override default.env, got %d", cfg.Transform.PNGCompression)
	}
	if cfg.Transform.DefaultQuality != 60 {
		t.Fatalf("environment should win over files, got %d", cfg.Transform.DefaultQuality)
	}
	if cfg.Transform.DefaultFormat != domain.FormatWebP || cfg.Transform.DefaultOrigin != domain.OriginCenter {
		t.Fatalf("unexpected transform defaults: %+v", cfg.Transform)
	}
	if cfg.RunMode != "staging" {
		t.Fatalf("unexpected run mode %s", cfg.RunMode)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PNG_COMPRESSION": "12",
		"DEFAULT_FORMAT":  "gif",
		"DEFAULT_ORIGIN":  "middle",
		"STORAGE_BACKEND": "ftp",
		"MAX_WATERMARKS":  "-1",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv("CONFIG_DIR", t.TempDir())
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
