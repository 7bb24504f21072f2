package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "batyrd",
	Short: "batyrd synchronizes OGR vector sources into PostgreSQL/PostGIS tables",
	Long: `batyrd runs a small HTTP-triggered job queue that pulls vector
layers from OGR-compatible sources and merges them into PostGIS-backed
target tables.`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the batyrd config file")
}
