package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/swastik-shetty-85/docpipe/pkg/client"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "docctl",
	Short: "docctl is a command line tool for the docpipe document pipeline",
	Long: `docctl is the command-line interface for the docpipe document processing
pipeline. It submits source documents with an extraction spec and a render
template, then tracks the resulting job through extraction and generation.

Common workflows:

  Submit a document:
    docctl submit --owner alice --document report.pdf --spec fields.json --template invoice.html

  Check job status:
    docctl status <job-id>

  Follow a job live until it finishes:
    docctl status <job-id> --watch

  List jobs by stage:
    docctl list --stage queued

  Inspect dead-lettered jobs:
    docctl dlq

  Download the rendered output:
    docctl output <job-id> --out result.pdf

Configuration:
  Set the API endpoint via a flag, environment variable, or config file:
    DOCPIPE_URL    API endpoint (default: http://localhost:8080)`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".docctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "DOCPIPE_VARNAME"
	viper.SetEnvPrefix("DOCPIPE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func apiClient() *client.Client {
	return client.New(viper.GetString("url"))
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.docctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:8080", "docpipe API URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
}
