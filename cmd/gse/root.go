package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-gse/config"
)

var rootCmd = &cobra.Command{
	Use:   "gse",
	Short: "Ground support equipment link and safety core",
	Long: `gse talks to the stand MCU over UDP, supervises abort limits and runs the
valve operations and timed firing sequences of the test stand.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "stand configuration file (default $"+config.EnvConfig+")")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flag, _ := cmd.Flags().GetString("config")

	return config.Load(config.Path(flag))
}
