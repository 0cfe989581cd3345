// Package cli implements the kioku command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Kioku/internal/kioku/app"
	"github.com/bdobrica/Kioku/internal/kioku/config"
	"github.com/bdobrica/Kioku/internal/kioku/observability"
)

var (
	configPath string
	dbPath     string
	userID     string
	formatFlag string

	// appOptions is passed to app.New; tests replace the provider here.
	appOptions app.Options
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:           "kioku",
	Short:         "Travel planning assistant with self-managed tiered memory",
	Long:          "Kioku keeps a conversational agent coherent across long sessions: a small core memory, searchable recall of every message, and a searchable archive.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default: $KIOKU_CONFIG)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "SQLite database path (overrides config and $KIOKU_DB_PATH)")
	RootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "default", "User id whose memory is used")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "text", "Output format: text or json")
}

// loadConfig applies flag overrides on top of file and environment.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = envConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	return cfg, nil
}

// openApp loads configuration, sets up logging and opens the backends.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	opts := appOptions
	if opts.Logger == nil {
		opts.Logger = observability.Setup(cmd.ErrOrStderr(), observability.Options{
			Level:     cfg.Log.Level,
			Format:    cfg.Log.Format,
			AddSource: cfg.Log.AddSource,
		})
	}
	return app.New(cmd.Context(), cfg, opts)
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
