package main

import (
	"os"
	"strings"

	"github.com/go-go-golems/forkchat/cmd/forkchat/cmds"
	"github.com/go-go-golems/forkchat/pkg/config"
	"github.com/go-go-golems/forkchat/pkg/logging"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "forkchat",
	Short: "forkchat serves and inspects branching chat conversations",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// reinitialize the logger now that --log-level and co are parsed
		return initLogger()
	},
	SilenceUsage: true,
}

func initLogger() error {
	logLevel := viper.GetString("log-level")
	if viper.GetBool("verbose") && logLevel != "trace" {
		logLevel = "debug"
	}
	return logging.InitLogger(&logging.Config{
		Level:      logLevel,
		LogFile:    viper.GetString("log-file"),
		LogFormat:  viper.GetString("log-format"),
		WithCaller: viper.GetBool("with-caller"),
	})
}

func initCommands(rootCmd *cobra.Command, configPath string) error {
	config.SetDefaults(viper.GetViper())
	viper.SetEnvPrefix("forkchat")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("forkchat")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.forkchat")

		xdgConfigPath, err := os.UserConfigDir()
		if err == nil {
			viper.AddConfigPath(xdgConfigPath + "/forkchat")
		}
	}

	err := viper.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		// no config file, flags and environment only
	} else if err != nil {
		return err
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return err
	}

	if err := initLogger(); err != nil {
		return err
	}

	log.Debug().
		Str("config", viper.ConfigFileUsed()).
		Msg("Loaded configuration")

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Bool("with-caller", false, "Log caller")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (json, text)")
	rootCmd.PersistentFlags().String("log-file", "", "Log file (default: stderr)")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ./forkchat.yaml or ~/.forkchat/forkchat.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose output")

	rootCmd.PersistentFlags().String("store-backend", "memory", "Store backend (memory, sqlite, yaml)")
	rootCmd.PersistentFlags().String("store-path", "", "Path of the sqlite database or yaml file")
	rootCmd.PersistentFlags().Int("store-cache-size", 0, "Number of conversations kept in the read cache (0 disables it)")

	// parse the flags one time just to catch --config
	configFile := ""
	for idx, arg := range os.Args {
		if arg == "--config" && len(os.Args) > idx+1 {
			configFile = os.Args[idx+1]
		}
	}

	if err := initCommands(rootCmd, configFile); err != nil {
		log.Fatal().Err(err).Msg("could not initialize configuration")
	}

	showCmd, err := cmds.NewShowCommand()
	cobra.CheckErr(err)
	showCobraCmd, err := cli.BuildCobraCommandFromGlazeCommand(showCmd)
	cobra.CheckErr(err)

	checkCmd, err := cmds.NewCheckCommand()
	cobra.CheckErr(err)
	checkCobraCmd, err := cli.BuildCobraCommandFromGlazeCommand(checkCmd)
	cobra.CheckErr(err)

	rootCmd.AddCommand(
		cmds.NewServeCommand(),
		showCobraCmd,
		checkCobraCmd,
		cmds.NewSchemaCommand(),
		cmds.NewExportCommand(),
		cmds.NewImportCommand(),
	)
}
