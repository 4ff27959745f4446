// Package cli implements the invoicegate command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/randalmurphal/invoicegate/internal/config"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
	jsonOut bool
)

// flagBindings maps global flags to config paths.
var flagBindings = map[string]string{
	"db":       "database.path",
	"dsn":      "database.dsn",
	"workflow": "workflow_path",
	"tools":    "tools_path",
	"app-url":  "app_url",
	"seed":     "tool_seed",
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoicegate",
		Short: "Resumable invoice workflow engine with a human review gate",
		Long: `invoicegate runs invoices through a staged accounts-payable workflow.

Invoices whose amount does not match the purchase order pause at a review
checkpoint. A reviewer accepts or rejects the invoice and the run resumes
from where it stopped.

Quick start:
  invoicegate run invoice.json          Process one invoice
  invoicegate pending                   List invoices waiting for review
  invoicegate decide CHK --decision ACCEPT --reviewer alice
  invoicegate serve                     Start the HTTP API`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(); err != nil {
				return err
			}
			setupLogger(cmd.ErrOrStderr())
			return nil
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is .invoicegate/config.yaml)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	pf.BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")
	pf.BoolVar(&jsonOut, "json", false, "output as JSON")
	pf.String("db", "", "SQLite store path")
	pf.String("dsn", "", "PostgreSQL connection string (selects the postgres driver)")
	pf.String("workflow", "", "workflow definition JSON")
	pf.String("tools", "", "tool pools YAML")
	pf.String("app-url", "", "base URL used in review links")
	pf.String("seed", "", "tool selection seed")
	for flag, key := range flagBindings {
		_ = viper.BindPFlag(key, pf.Lookup(flag))
	}

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newPendingCmd())
	cmd.AddCommand(newDecideCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newPurgeCmd())
	cmd.AddCommand(newResultsCmd())
	cmd.AddCommand(newBatchCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the root command and prints any error.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		PrintError(err)
		return err
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)
}

// initConfig points viper at the config file.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(config.Dir)
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadConfig resolves configuration: defaults, config file, env, flags.
func loadConfig(cmd *cobra.Command) (*config.TrackedConfig, error) {
	var (
		tc  *config.TrackedConfig
		err error
	)
	if cfgFile != "" {
		tc, err = config.LoadWithSourcesFile(cfgFile)
	} else {
		tc, err = config.LoadWithSources()
	}
	if err != nil {
		return nil, err
	}

	for flag, key := range flagBindings {
		if cmd.Flags().Changed(flag) {
			tc.Override(key, viper.GetString(key))
		}
	}
	if cmd.Flags().Changed("dsn") {
		tc.Override("database.driver", config.DriverPostgres)
	}
	if err := tc.Config.Validate(); err != nil {
		return nil, err
	}
	return tc, nil
}
