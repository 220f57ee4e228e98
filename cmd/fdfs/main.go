package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/fdfs/pkg/catalog"
	"github.com/cuemby/fdfs/pkg/client"
	"github.com/cuemby/fdfs/pkg/config"
	"github.com/cuemby/fdfs/pkg/log"
	"github.com/cuemby/fdfs/pkg/types"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// cfg is loaded once by the root command before any subcommand runs
var cfg *config.Config

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fdfs",
	Short: "fdfs - client for tracker/storage file clusters",
	Long: `fdfs talks to a distributed file cluster: trackers that know where
files live and storage nodes that hold them.

Files are addressed by id, "group/remote/filename", as printed by upload.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg = loaded
		log.Init(cfg.LoggerConfig())
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fdfs version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringSlice("tracker", nil, "Tracker address host:port (repeatable)")
	rootCmd.PersistentFlags().Duration("timeout", 0, "Connect and socket timeout")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("json-log", false, "Log as JSON")
}

// loadConfig reads --config, then applies flags that were set explicitly
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	c := config.Default()
	if path, _ := flags.GetString("config"); path != "" {
		var err error
		if c, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	if flags.Changed("tracker") {
		c.Trackers, _ = flags.GetStringSlice("tracker")
	}
	if flags.Changed("timeout") {
		c.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("log-level") {
		c.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("json-log") {
		c.Log.JSON, _ = flags.GetBool("json-log")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func newClient() (*client.Client, error) {
	cc, err := cfg.ClientConfig()
	if err != nil {
		return nil, err
	}
	c, err := client.New(cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return c, nil
}

// openCatalog returns nil when no catalog is configured
func openCatalog() (catalog.Store, error) {
	if cfg.Catalog.Path == "" {
		return nil, nil
	}
	store, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// parseMeta turns name=value arguments into metadata
func parseMeta(args []string) (types.Metadata, error) {
	md := types.Metadata{}
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("metadata %q is not name=value", arg)
		}
		md.Set(name, value)
	}
	if err := md.Validate(); err != nil {
		return nil, err
	}
	return md, nil
}

func formatTime(t time.Time) string {
	return t.Local().Format(time.RFC3339)
}
