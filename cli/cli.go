package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/upgradekit/odooup/clierror"
	"github.com/upgradekit/odooup/compose"
	"github.com/upgradekit/odooup/database"
	"github.com/upgradekit/odooup/genericclioptions"
	"github.com/upgradekit/odooup/upgrade"
	"github.com/upgradekit/odooup/upgradeerrors"

	"github.com/spf13/cobra"
)

const (
	// defaultPostgresVersion selects the database engine image when
	// neither the flag nor the config file sets one.
	defaultPostgresVersion = "13"
)

// UpgradeOptions holds the root command flags and the resolved runtime
// configuration for one upgrade session.
type UpgradeOptions struct {
	*genericclioptions.IOStreams

	Source          string
	TargetVersion   string
	ExtraAddons     string
	PostgresVersion string
	LogFile         string
	WorkDir         string

	config   Config
	userPath string // config file path explicitly provided by the user, if any

	logFile        *os.File
	composeCommand []string
}

var _ genericclioptions.CmdOptions = &UpgradeOptions{}

// NewUpgradeOptions initializes the options struct.
func NewUpgradeOptions(iostreams *genericclioptions.IOStreams) *UpgradeOptions {
	return &UpgradeOptions{
		IOStreams: iostreams,
	}
}

// Complete loads the config file and fills unset flags from it.
func (o *UpgradeOptions) Complete() error {
	clierror.DebugMode(o.Verbose)

	config, err := LoadConfig(o.userPath)
	if err != nil {
		return err
	}

	o.config = config

	if o.PostgresVersion == "" {
		o.PostgresVersion = config.Upgrade.PostgresVersion
	}

	if o.PostgresVersion == "" {
		o.PostgresVersion = defaultPostgresVersion
	}

	if o.LogFile == "" {
		o.LogFile = config.Upgrade.LogFile
	}

	if o.WorkDir == "" {
		o.WorkDir = config.Upgrade.WorkDir
	}

	if o.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}

		o.WorkDir = wd
	}

	if o.LogFile != "" {
		f, err := os.OpenFile(o.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}

		o.logFile = f
		o.SetLogSink(f)
	}

	if cmd := o.config.Compose.Command; cmd != "" {
		o.composeCommand = strings.Fields(cmd)
	}

	return nil
}

// Validate checks the minimal invariants before any side effects.
func (o *UpgradeOptions) Validate() error {
	if o.Source == "" {
		return errors.New("--source is required")
	}

	if !slices.Contains(upgrade.SupportedVersions, o.TargetVersion) {
		return &upgradeerrors.ValidationError{
			Err: fmt.Errorf("%w: %q (supported: %s)",
				upgradeerrors.ErrUnsupportedTarget, o.TargetVersion, strings.Join(upgrade.SupportedVersions, ", ")),
		}
	}

	return nil
}

// Run executes the upgrade session and guarantees cleanup on every exit
// path, including cancellation.
func (o *UpgradeOptions) Run(ctx context.Context, _ ...string) error {
	defer func() {
		if o.logFile != nil {
			o.SetLogSink(nil)
			_ = o.logFile.Close()
		}
	}()

	composeCommand := o.composeCommand
	if composeCommand == nil {
		composeCommand = compose.DetectComposeCommand(ctx)
	}

	o.Debugf("using compose command: %s\n", strings.Join(composeCommand, " "))

	executor := compose.NewShellExecutor(o.WorkDir, composeCommand)
	session := upgrade.NewSession(o.Source, o.TargetVersion, o.ExtraAddons, o.PostgresVersion, o.Verbose, o.WorkDir)

	orchestrator := upgrade.NewOrchestrator(o.IOStreams, session, executor)
	cleaner := upgrade.NewCleaner(o.IOStreams, session, database.NewController(o.IOStreams, executor, o.WorkDir))

	// teardown must run whether the session succeeds, fails or is
	// interrupted, and must not be cut short by the cancelled context
	defer cleaner.Run(context.WithoutCancel(ctx))

	err := orchestrator.Run(ctx)
	if err != nil && ctx.Err() != nil {
		o.Errorf("operation cancelled\n")
	}

	return err
}

// NewDefaultUpgradeCommand creates the `odooup` command with its sub-commands.
func NewDefaultUpgradeCommand(iostreams *genericclioptions.IOStreams, args []string) *cobra.Command {
	o := NewUpgradeOptions(iostreams)

	cmd := &cobra.Command{
		Use:   "odooup",
		Short: "Upgrade an Odoo database to a target version",
		Long: `odooup automates the upgrade of an Odoo database (zip or dump)
to a target version by running OCA/OpenUpgrade workers against an
ephemeral postgres instance, one major version per step.

Environment Variables:
    ODOOUP_CONFIG_PATH: overrides the default config path: "~/.odooup.toml".`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return clierror.Check(genericclioptions.ExecuteCommand(cmd.Context(), o))
		},
	}

	cmd.SetArgs(args)

	cmd.Flags().StringVar(&o.Source, "source", "", "path or URL of the source database (.zip or .dump)")
	cmd.Flags().StringVarP(&o.TargetVersion, "target-version", "t", "",
		fmt.Sprintf("target Odoo version (one of: %s)", strings.Join(upgrade.SupportedVersions, ", ")))
	cmd.Flags().StringVar(&o.ExtraAddons, "extra-addons", "",
		"custom addons location: local folder, local .zip file, or URL to a .zip file")
	cmd.Flags().StringVar(&o.PostgresVersion, "postgres-version", "",
		fmt.Sprintf("postgres version for the database container (default: %s)", defaultPostgresVersion))
	cmd.Flags().StringVar(&o.LogFile, "log-file", "", "path to a session log file")
	cmd.Flags().StringVar(&o.WorkDir, "workdir", "", "session working directory (default: current directory)")

	cmd.PersistentFlags().BoolVarP(&o.Verbose, "verbose", "v", false, "enable verbose output")
	cmd.PersistentFlags().StringVar(&o.userPath, "config", "",
		fmt.Sprintf("configuration file path (default: ~/%s)", defaultConfigName))

	cmd.AddCommand(newConfigCommand(o))
	cmd.AddCommand(newVersionCommand(o))

	return cmd
}
