package advres

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/edgeflare/advres/pkg/config"
)

var cfgFile string
var logLevel string

// v holds defaults, env bindings and the flags of every subcommand.
var v = config.New()

var rootCmd = &cobra.Command{
	Use:   "advres",
	Short: "advres serves paginated, filterable collections over HTTP",
	Long:  `advres translates query strings (select, sort, page, limit and bracket operators) into database queries and answers with a paginated envelope`,
	Run: func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			fmt.Println(config.Version)
			return
		}

		// If no subcommand is provided, print help
		cmd.Help()
	},
}

func Main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/advres.yaml)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "L", "info", "log at this level (debug, info, warn, error, none)")
	rootCmd.PersistentFlags().BoolP("version", "v", false, "Print the version number")

	rootCmd.AddCommand(serveCmd)
}
