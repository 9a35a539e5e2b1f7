package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-go-golems/glazed/pkg/help"
	"github.com/go-go-golems/llm-eval/cmd/llm-eval/cmds"
	"github.com/go-go-golems/llm-eval/pkg/config"
	"github.com/go-go-golems/llm-eval/pkg/doc"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var rootCmd = &cobra.Command{
	Use:   "llm-eval",
	Short: "llm-eval compares LLM backends side by side and records the conversations",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flag
		initLogger()
	},
}

type logConfig struct {
	WithCaller bool
	Level      string
	LogFormat  string
	LogFile    string
}

func initLogger() {
	logLevel := viper.GetString("log-level")
	if viper.GetBool("verbose") && logLevel != "trace" {
		logLevel = "debug"
	}

	err := InitLogger(&logConfig{
		Level:      logLevel,
		LogFile:    viper.GetString("log-file"),
		LogFormat:  viper.GetString("log-format"),
		WithCaller: viper.GetBool("with-caller"),
	})
	cobra.CheckErr(err)
}

func InitLogger(config *logConfig) error {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if config.WithCaller {
		logger = logger.With().Caller().Logger()
	}

	// default is text on a terminal, json otherwise
	var logWriter io.Writer = os.Stderr
	if config.LogFormat == "text" && isatty.IsTerminal(os.Stderr.Fd()) {
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr}
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

	log.Logger = logger.Output(logWriter)

	level, err := zerolog.ParseLevel(strings.ToLower(config.Level))
	if err != nil || config.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

func initViper(rootCmd *cobra.Command, configPath string) error {
	config.LoadDotEnv()
	viper.SetEnvPrefix(config.EnvPrefix)
	config.SetDefaults(viper.GetViper())

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.llm-eval")
		viper.AddConfigPath("/etc/llm-eval")

		xdgConfigPath, err := os.UserConfigDir()
		if err == nil {
			viper.AddConfigPath(xdgConfigPath + "/llm-eval")
		}
	}

	err := viper.ReadInConfig()
	// a missing config file is fine
	if _, ok := err.(viper.ConfigFileNotFoundError); !ok && err != nil {
		return err
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return err
	}

	// picks up the level from the config file, --log-level is only known
	// once the command line is parsed
	initLogger()

	log.Debug().Str("config", viper.ConfigFileUsed()).Msg("Loaded configuration")
	return nil
}

func addSettingsFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()

	f.Bool("with-caller", false, "Log caller")
	f.String("log-level", "info", "Log level (trace, debug, info, warn, error, fatal)")
	f.String("log-format", "text", "Log format (json, text)")
	f.String("log-file", "", "Log file, rotated (default: stderr only)")
	f.Bool("verbose", false, "Verbose output")
	f.String("config", "", "Path to config file (default ./config.yaml or ~/.llm-eval/config.yaml)")

	f.String("records-file", "", "Line-delimited JSON file holding the conversation records")
	f.Bool("strict-load", false, "Fail on malformed record lines instead of skipping them")
	f.StringSlice("admins", nil, "Users allowed to manage every user's records")

	f.String("backend", "", "Default generation backend (openai, ollama, echo)")
	f.String("openai-api-key", "", "OpenAI compatible API key")
	f.String("openai-base-url", "", "OpenAI compatible base URL")
	f.String("ollama-host", "", "Ollama server address")
	f.Duration("generation-timeout", 0, "Timeout of one generation")
	f.String("models-file", "", "YAML file with model presets")

	f.String("retrieval-store", "", "Vector store for augmented generation (none, memory, weaviate, milvus)")
	f.String("embedder", "", "Embedding provider (openai, ollama, hashing)")
	f.String("embedding-model", "", "Embedding model")
	f.Int("top-k", 0, "Number of passages to retrieve")
	f.Float64("min-score", 0, "Minimum passage score")
	f.Int("max-context-tokens", 0, "Token budget of the retrieved context (0: unlimited)")
	f.String("index-file", "", "JSONL passages for the memory store")
	f.String("weaviate-host", "", "Weaviate host")
	f.String("weaviate-class", "", "Weaviate class holding the passages")
	f.String("milvus-address", "", "Milvus address")
	f.String("milvus-collection", "", "Milvus collection holding the passages")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	helpSystem := help.NewHelpSystem()
	err := doc.AddDocToHelpSystem(helpSystem)
	if err != nil {
		panic(err)
	}

	helpFunc, usageFunc := help.GetCobraHelpUsageFuncs(helpSystem)
	helpTemplate, usageTemplate := help.GetCobraHelpUsageTemplates(helpSystem)
	rootCmd.SetHelpFunc(helpFunc)
	rootCmd.SetUsageFunc(usageFunc)
	rootCmd.SetHelpTemplate(helpTemplate)
	rootCmd.SetUsageTemplate(usageTemplate)
	rootCmd.SetHelpCommand(help.NewCobraHelpCommand(helpSystem))

	addSettingsFlags(rootCmd)

	// parse the flags one time just to catch --config
	configFile := ""
	for idx, arg := range os.Args {
		if arg == "--config" && len(os.Args) > idx+1 {
			configFile = os.Args[idx+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			configFile = strings.TrimPrefix(arg, "--config=")
		}
	}

	if err := initViper(rootCmd, configFile); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error initializing config: %s\n", err)
		os.Exit(1)
	}

	err = cmds.AddToRootCommand(rootCmd)
	cobra.CheckErr(err)
}
