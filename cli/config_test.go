package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), defaultConfigName)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
[upgrade]
postgres_version = "15"
work_dir = "/srv/upgrades"
log_file = "/var/log/odooup.log"

[compose]
command = "docker compose"
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if config.Upgrade.PostgresVersion != "15" {
		t.Errorf("postgres version = %q, want 15", config.Upgrade.PostgresVersion)
	}

	if config.Upgrade.WorkDir != "/srv/upgrades" {
		t.Errorf("work dir = %q", config.Upgrade.WorkDir)
	}

	if config.Compose.Command != "docker compose" {
		t.Errorf("compose command = %q", config.Compose.Command)
	}

	if config.path != path {
		t.Errorf("resolved path = %q, want %q", config.path, path)
	}
}

func TestLoadConfig_UserPathMissing(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("LoadConfig() accepted a missing user-provided path")
	}
}

func TestLoadConfig_DefaultPathMissing(t *testing.T) {
	t.Setenv(envConfigPathKey, filepath.Join(t.TempDir(), "nope.toml"))

	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if config != (Config{}) {
		t.Errorf("config = %+v, want zero value", config)
	}
}

func TestLoadConfig_Malformed(t *testing.T) {
	path := writeConfig(t, "[upgrade\npostgres_version = ")

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("LoadConfig() accepted malformed toml")
	}
}
