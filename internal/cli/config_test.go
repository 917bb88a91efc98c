package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadServerConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tessellate.yaml")
	data := `addr: ":9000"
db: /var/lib/tessellate.db
sweep_interval: 10m
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := loadServerConfig(path, true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9000" || cfg.DB != "/var/lib/tessellate.db" || cfg.SweepInterval != "10m" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadServerConfigMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.yaml")

	// Default path not present: zero config, no error.
	if _, err := loadServerConfig(path, false); err != nil {
		t.Fatalf("implicit missing file: %v", err)
	}

	// Explicitly named but absent: error.
	if _, err := loadServerConfig(path, true); err == nil {
		t.Fatal("expected error for explicit missing config")
	}
}

func TestResolveSettingPrecedence(t *testing.T) {
	t.Setenv("TESSELLATE_ADDR", ":envport")

	if got := resolveSetting(true, ":flag", ":cfg", "TESSELLATE_ADDR"); got != ":flag" {
		t.Fatalf("flag must win, got %q", got)
	}
	if got := resolveSetting(false, ":default", ":cfg", "TESSELLATE_ADDR"); got != ":cfg" {
		t.Fatalf("config must beat env, got %q", got)
	}
	if got := resolveSetting(false, ":default", "", "TESSELLATE_ADDR"); got != ":envport" {
		t.Fatalf("env must beat default, got %q", got)
	}

	os.Unsetenv("TESSELLATE_ADDR")
	if got := resolveSetting(false, ":default", "", "TESSELLATE_ADDR"); got != ":default" {
		t.Fatalf("default fallthrough, got %q", got)
	}
}

func TestResolveDuration(t *testing.T) {
	d, err := resolveDuration(false, 5*time.Minute, "10m", "sweep_interval")
	if err != nil || d != 10*time.Minute {
		t.Fatalf("config duration: %v %v", d, err)
	}
	d, err = resolveDuration(true, 5*time.Minute, "10m", "sweep_interval")
	if err != nil || d != 5*time.Minute {
		t.Fatalf("flag must win: %v %v", d, err)
	}
	if _, err := resolveDuration(false, 0, "not-a-duration", "sweep_interval"); err == nil {
		t.Fatal("expected parse error")
	}
}
