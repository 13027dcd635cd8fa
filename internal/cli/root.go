// Package cli implements the flutterbox command line client.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fslongjin/flutterbox/internal/cli/output"
	"github.com/fslongjin/flutterbox/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultTimeout = 30 * time.Second

var (
	cfgFile      string
	apiURL       string
	timeout      time.Duration
	verbose      bool
	outputFormat string
)

// ExitError carries the exit status of a remote build back to main.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("build exited with code %d", e.Code)
}

var rootCmd = &cobra.Command{
	Use:   "flutterbox",
	Short: "flutterbox CLI - edit, build and preview Flutter workspaces",
	Long: `flutterbox is a command-line client for a flutterbox server.

It creates workspaces from the server's Flutter template, uploads generated
source files, runs web builds while streaming their logs and prints the
preview URL of the result.`,
	Version:       "dev",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
func Execute(version, commit, date string) int {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built at: %s)", version, commit, date)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file path (default: ~/.config/flutterbox/config.yaml)")
	flags.StringVarP(&apiURL, "api-server", "s", client.DefaultBaseURL, "API server address")
	flags.DurationVar(&timeout, "timeout", defaultTimeout, "Request timeout")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	flags.StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json, yaml)")

	viper.BindPFlag("api-server", flags.Lookup("api-server"))
	viper.BindPFlag("timeout", flags.Lookup("timeout"))
	viper.BindPFlag("verbose", flags.Lookup("verbose"))
	viper.BindPFlag("output", flags.Lookup("output"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "flutterbox"))
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("FLUTTERBOX")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && viper.GetBool("verbose") {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func requestTimeout() time.Duration {
	if d := viper.GetDuration("timeout"); d > 0 {
		return d
	}
	return defaultTimeout
}

func getAPIClient() *client.Client {
	url := viper.GetString("api-server")
	if url == "" {
		url = client.DefaultBaseURL
	}
	return client.New(url, client.WithTimeout(requestTimeout()), client.WithUserAgent("flutterbox-cli"))
}

// requestContext bounds a single API call. Build log streams use the
// command context directly since a build can outlast any request timeout.
func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), requestTimeout())
}

func formatter(columns ...output.Column) (output.Formatter, error) {
	format, err := output.ParseFormat(viper.GetString("output"))
	if err != nil {
		return nil, err
	}
	return output.New(format, columns...), nil
}

func debugf(format string, args ...any) {
	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
