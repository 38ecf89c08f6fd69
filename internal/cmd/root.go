// Package cmd implements the restprobe command line tool, which exercises the
// client building blocks against a live API or locally.
package cmd

import (
	"context"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"restkit/pkg/core"
)

const envPrefix = "RESTKIT"

var versionInfo struct {
	Version string
	Commit  string
}

// SetVersionInfo is called by the main package.
func SetVersionInfo(version, commit string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
}

// Execute runs the root command with the process arguments.
func Execute() error {
	return NewRootCommand().ExecuteContext(context.Background())
}

// app holds what the subcommands share.
type app struct {
	v       *viper.Viper
	cfgFile string
	verbose bool
	logger  zerolog.Logger
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New(), logger: zerolog.Nop()}

	root := &cobra.Command{
		Use:           "restprobe",
		Short:         "Probe REST APIs for clock skew and exercise admission limits",
		Version:       versionInfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default ./restprobe.yaml if present)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	root.PersistentFlags().String("name", "probe", "name of the API in logs")
	root.PersistentFlags().String("base-url", "", "API base URL")
	root.PersistentFlags().Duration("timeout", 0, "request timeout (default from config)")
	_ = a.v.BindPFlag("name", root.PersistentFlags().Lookup("name"))
	_ = a.v.BindPFlag("base_url", root.PersistentFlags().Lookup("base-url"))
	_ = a.v.BindPFlag("timeout", root.PersistentFlags().Lookup("timeout"))

	root.AddCommand(
		newTimeCommand(a),
		newBurstCommand(a),
		newGetCommand(a),
	)
	return root
}

// init reads the config file and environment, then sets up logging.
func (a *app) init(cmd *cobra.Command) error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		a.v.AddConfigPath(".")
		a.v.SetConfigName("restprobe")
	}

	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || a.cfgFile != "" {
			return err
		}
	}

	level := zerolog.InfoLevel
	if lvl := a.v.GetString("log_level"); lvl != "" {
		if parsed, err := zerolog.ParseLevel(lvl); err == nil {
			level = parsed
		}
	}
	if a.verbose && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}
	a.logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: "15:04:05.000"}).
		Level(level).
		With().Timestamp().Logger()

	if a.v.ConfigFileUsed() != "" {
		a.logger.Debug().Str("path", a.v.ConfigFileUsed()).Msg("using config file")
	}
	return nil
}

// config builds the client configuration from defaults, the config file,
// environment variables and flags, in increasing priority.
func (a *app) config() (*core.Config, error) {
	cfg := core.DefaultConfig(a.v.GetString("name"))

	err := a.v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	)))
	if err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = core.DefaultConfig("").Timeout
	}
	if cfg.Credentials == nil {
		if key := a.v.GetString("credentials.api_key"); key != "" {
			cfg.Credentials = &core.Credentials{
				APIKey:     key,
				SecretKey:  a.v.GetString("credentials.secret_key"),
				Passphrase: a.v.GetString("credentials.passphrase"),
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

