package cmd

import (
	"fmt"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	videoroom "github.com/kevin29a/videoroom/pkg"
	"github.com/kevin29a/videoroom/pkg/logger"
)

var (
	// Used for flags.
	cfgFile string
	conf    = videoroom.RootConfig{}

	rootCmd = &cobra.Command{
		Use:   "videoroom",
		Short: "videoroom is a simulcast-aware videoroom client",
		Long:  `A videoroom client that tracks room state, adapts simulcast quality per feed, and computes grid layouts`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.videoroom.toml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace|debug|info|warn|error)")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
		viper.SetConfigType("toml")
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		// Search config in home directory with name ".videoroom" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".videoroom")
	}
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}

	if err := viper.GetViper().Unmarshal(&conf); err != nil {
		fmt.Fprintf(os.Stderr, "config file %s load failed: %v\n", cfgFile, err)
		os.Exit(1)
	}

	logger.SetLevel(conf.Log.Level)
}
