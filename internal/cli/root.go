package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"trivia-bingo/internal/config"
	"trivia-bingo/internal/logger"
)

const envPrefix = "BINGO"

type rootOptions struct {
	configPath string
	logLevel   string
}

// Execute runs the CLI.
func Execute() error {
	// a missing .env is fine
	_ = godotenv.Load()
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "trivia-bingo",
		Short:         "Multiplayer trivia bingo over the local network",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	fs := cmd.PersistentFlags()
	fs.StringVar(&opts.configPath, "config", "config/config.yaml", "path to YAML config (env: BINGO_CONFIG)")
	fs.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (env: BINGO_LOG_LEVEL)")
	bindEnv(fs)

	cmd.AddCommand(newHostCmd(opts))
	cmd.AddCommand(newJoinCmd(opts))
	cmd.AddCommand(newSoloCmd(opts))
	cmd.AddCommand(NewMigrateCmd(opts))
	cmd.AddCommand(newImportBankCmd(opts))
	cmd.CompletionOptions.HiddenDefaultCmd = true
	return cmd
}

// bindEnv lets BINGO_* variables stand in for flags that were not given.
func bindEnv(fs *pflag.FlagSet) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

// load reads the config file and applies the global flags on top.
func (o *rootOptions) load() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, nil, fmt.Errorf("load config %s: %w", o.configPath, err)
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, logger.New(cfg.Log.Level, os.Stderr), nil
}
