package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/upgradekit/odooup/clierror"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

const (
	// defaultConfigName is the default name of the configuration file
	// expected under the user's home directory.
	defaultConfigName = ".odooup.toml"

	// envConfigPathKey is the environment variable key for overriding
	// the config file path.
	envConfigPathKey = "ODOOUP_CONFIG_PATH"
)

//nolint:tagalign
type UpgradeConfig struct {
	PostgresVersion string `toml:"postgres_version,commented" comment:"Postgres version for the database container (default: '13' if not set)"`
	WorkDir         string `toml:"work_dir,commented"         comment:"Session working directory (default: current directory if not set)"`
	LogFile         string `toml:"log_file,commented"         comment:"Session log file path (default: no file logging if not set)"`
}

//nolint:tagalign
type ComposeConfig struct {
	Command string `toml:"command,commented" comment:"Compose invocation override (default: autodetect 'docker compose' or 'docker-compose')"`
}

//nolint:tagalign
type Config struct {
	Upgrade UpgradeConfig `toml:"upgrade"`
	Compose ComposeConfig `toml:"compose,commented"`

	path string // path is the resolved file path from which this config was loaded
}

func (c Config) String() string {
	return fmt.Sprintf(`Config{
  Upgrade: {
    PostgresVersion: %q,
    WorkDir:  %q,
    LogFile:  %q
  },
  Compose: {
    Command: %q
  }
}`, c.Upgrade.PostgresVersion, c.Upgrade.WorkDir, c.Upgrade.LogFile, c.Compose.Command)
}

func (c Config) Validate() error {
	if cmd := c.Compose.Command; cmd != "" && len(strings.Fields(cmd)) == 0 {
		return errors.New("invalid compose command")
	}

	return nil
}

func defaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: user home dir: %w", err)
	}

	path := filepath.Join(home, defaultConfigName)
	if p, ok := os.LookupEnv(envConfigPathKey); ok {
		path = p
	}

	return path, nil
}

// LoadConfig reads the configuration from the given file path.
// If no path is provided, it uses the default config path (~/.odooup.toml).
//
// Returns an empty Config if no config file is found and no path was explicitly given.
func LoadConfig(userPath string) (Config, error) {
	path := userPath
	userProvided := len(userPath) > 0

	if !userProvided {
		f, err := defaultConfigPath()
		if err != nil {
			return Config{}, err
		}

		path = f
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if !userProvided {
				return Config{}, nil
			}

			return Config{}, fmt.Errorf("config: no config file found at %q", path)
		}

		return Config{}, fmt.Errorf("config: stat file: %w", err)
	}

	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, err
	}

	config := Config{path: path}
	if err := toml.Unmarshal(raw, &config); err != nil {
		return Config{}, fmt.Errorf("config: parse file: %w", err)
	}

	return config, config.Validate()
}

// newConfigCommand prints the resolved configuration.
func newConfigCommand(o *UpgradeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the resolved configuration",
		RunE: func(_ *cobra.Command, _ []string) error {
			return clierror.Check(func() error {
				config, err := LoadConfig(o.userPath)
				if err != nil {
					return err
				}

				if config.path != "" {
					o.Printf("Loaded from: %s\n", config.path)
				} else {
					o.Printf("No config file found; showing defaults.\n")
				}

				o.Printf("%s\n", config)

				return nil
			}())
		},
	}

	return cmd
}
