// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/scrapeflow/internal/config"
	"github.com/xkilldash9x/scrapeflow/internal/observability"
	"github.com/xkilldash9x/scrapeflow/internal/service"
)

// osExit is swapped in tests.
var osExit = os.Exit

// app carries state shared by every command of one root instance.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	factory service.ComponentFactory
}

// newRootCmd builds a root command tree that creates its services with factory.
func newRootCmd(factory service.ComponentFactory) *cobra.Command {
	a := &app{v: viper.New(), factory: factory}

	root := &cobra.Command{
		Use:           "scrapeflow",
		Short:         "Scrapeflow runs declarative browser scrapers once, per data row, or on a schedule.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initialize(cmd)
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	flags.String("log-level", "", "log level override (debug, info, warn, error)")
	flags.String("datastore", "", "data store DSN override (SQLite path, :memory: or libsql:// URL)")

	root.AddCommand(
		newServeCmd(a),
		newRunCmd(a),
		newRoutineCmd(a),
		newHistoryCmd(a),
		newDatastoreCmd(a),
		newApplyCmd(a),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI with a context cancelled on SIGINT and SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd(service.NewComponentFactory()).ExecuteContext(ctx)
	observability.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		osExit(1)
	}
}

// initialize loads configuration and sets up the global logger. Logs go to
// stderr so command output on stdout stays machine readable.
func (a *app) initialize(cmd *cobra.Command) error {
	config.SetDefaults(a.v)
	if err := a.readConfig(); err != nil {
		return err
	}
	if err := a.bindFlags(cmd); err != nil {
		return err
	}

	cfg, err := config.NewConfigFromViper(a.v)
	if err != nil {
		observability.Initialize(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "scrapeflow"}, zapcore.Lock(os.Stderr))
		return err
	}
	if cfg.BrowserCfg.UserDataRoot, err = homedir.Expand(cfg.BrowserCfg.UserDataRoot); err != nil {
		return fmt.Errorf("invalid browser.user_data_root: %w", err)
	}
	a.cfg = cfg

	observability.Initialize(cfg.Logger(), zapcore.Lock(os.Stderr))
	observability.GetLogger().Debug("Starting scrapeflow.", zap.String("version", Version), zap.String("command", cmd.Name()))
	return nil
}

// readConfig reads the config file and environment. A missing default
// config file is not an error.
func (a *app) readConfig() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		a.v.AddConfigPath(".")
		a.v.SetConfigName("config")
		a.v.SetConfigType("yaml")
	}

	a.v.SetEnvPrefix("SCRAPEFLOW")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// bindFlags maps persistent override flags onto their config keys.
func (a *app) bindFlags(cmd *cobra.Command) error {
	bindings := map[string]string{
		"log-level": "logger.level",
		"datastore": "datastore.dsn",
	}
	for flag, key := range bindings {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		if err := a.v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

// components builds the service graph for one command invocation.
func (a *app) components(cmd *cobra.Command, opts service.Options) (*service.Components, error) {
	if a.cfg == nil {
		return nil, errors.New("configuration is not initialized")
	}
	c, err := a.factory.Create(cmd.Context(), a.cfg, opts, observability.GetLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	return c, nil
}
