package main

import (
	"io"
	"os"
	"strings"

	"github.com/go-go-golems/deepdiagram/cmd/deepdiagram/cmds"
	"github.com/go-go-golems/deepdiagram/pkg/config"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var rootCmd = &cobra.Command{
	Use:   "deepdiagram",
	Short: "deepdiagram talks to a deepdiagram backend and keeps track of diagram conversations",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flag
		return initLogger()
	},
	SilenceUsage: true,
}

type logConfig struct {
	WithCaller bool
	Level      string
	LogFormat  string
	LogFile    string
}

func initLogger() error {
	logLevel := viper.GetString("log-level")
	verbose := viper.GetBool("verbose")
	if verbose && logLevel != "trace" {
		logLevel = "debug"
	}

	return InitLogger(&logConfig{
		Level:      logLevel,
		LogFile:    viper.GetString("log-file"),
		LogFormat:  viper.GetString("log-format"),
		WithCaller: viper.GetBool("with-caller"),
	})
}

func InitLogger(config *logConfig) error {
	if config.WithCaller {
		log.Logger = log.With().Caller().Logger()
	}

	// default is text, colored only on a terminal
	var logWriter io.Writer
	if config.LogFormat == "json" {
		logWriter = os.Stderr
	} else {
		logWriter = zerolog.ConsoleWriter{
			Out:     os.Stderr,
			NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
		}
	}

	if config.LogFile != "" {
		logWriter = io.MultiWriter(
			logWriter,
			zerolog.ConsoleWriter{
				NoColor: true,
				Out: &lumberjack.Logger{
					Filename:   config.LogFile,
					MaxSize:    10, // megabytes
					MaxBackups: 3,
					MaxAge:     28, // days
				},
			})
	}

	log.Logger = log.Output(logWriter)

	level := config.Level
	if level == "" {
		level = "info"
	}
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(l)

	return nil
}

func initConfig(configPath string) error {
	viper.SetEnvPrefix("deepdiagram")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.deepdiagram")

		xdgConfigPath, err := os.UserConfigDir()
		if err == nil {
			viper.AddConfigPath(xdgConfigPath + "/deepdiagram")
		}
	}

	err := viper.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		// no config file, flags and environment only
	} else if err != nil {
		return err
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	return viper.BindPFlags(rootCmd.PersistentFlags())
}

func init() {
	config.SetDefaults(viper.GetViper())

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Path to the config file")
	pf.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	pf.String("log-format", "text", "Log format (text, json)")
	pf.String("log-file", "", "Also write logs to this file, rotated")
	pf.Bool("with-caller", false, "Log the caller of each log line")
	pf.Bool("verbose", false, "Shortcut for --log-level debug, also logs the event bus")

	pf.String("base-url", config.DefaultBaseURL, "Base URL of the deepdiagram backend")
	pf.Duration("timeout", config.DefaultTimeout, "Timeout of non-streaming backend requests")
	pf.String("default-agent", "mindmap", "Agent shown when a conversation has no diagram yet")
	pf.String("export-dir", config.DefaultExportDir, "Directory exported diagrams are written to")

	rootCmd.AddCommand(
		cmds.NewSessionsCommand(),
		cmds.NewResolveCommand(),
		cmds.NewChatCommand(),
		cmds.NewRegenerateCommand(),
		cmds.NewExportCommand(),
	)
}

func main() {
	// the config path has to be known before cobra parses the rest of the flags
	configPath := ""
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			configPath = os.Args[i+1]
		} else if strings.HasPrefix(arg, "--config=") {
			configPath = strings.TrimPrefix(arg, "--config=")
		}
	}
	if err := initConfig(configPath); err != nil {
		log.Fatal().Err(err).Msg("could not load configuration")
	}
	log.Debug().Str("config", viper.ConfigFileUsed()).Msg("Loaded configuration")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
