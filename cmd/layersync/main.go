package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/domonda/go-layersync"
	"github.com/domonda/go-layersync/broker"
	"github.com/domonda/go-layersync/config"
	rootlog "github.com/domonda/golog/log"
)

var log = rootlog.NewPackageLogger()

const defaultConfigFile = "layersync.yaml"

// shutdownTimeout bounds the wait for running HTTP requests on shutdown,
// running jobs are always finished.
const shutdownTimeout = 30 * time.Second

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:          layersync.AppName,
		Short:        "Synchronizes vector datasets into PostGIS tables on demand",
		Version:      layersync.Version,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", defaultConfigFile, "YAML configuration file")

	cmd.AddCommand(newServeCmd(&configFile))
	cmd.AddCommand(newCheckConfigCmd(&configFile))
	cmd.AddCommand(newLayersCmd(&configFile))
	return cmd
}

func newServeCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the workers and the HTTP API until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// serve runs a Broker until ctx is done.
func serve(ctx context.Context, cfg *config.Config) error {
	b := broker.New(cfg, log)
	err := b.Start(ctx)
	if err != nil {
		return err
	}
	log.Info("Serving").
		Str("version", layersync.Version).
		Str("listen", cfg.HTTP.Listen).
		Log()

	<-ctx.Done()
	log.Info("Received shutdown signal").Log()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return b.Stop(stopCtx)
}

func newCheckConfigCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: OK, %d layers, %d worker threads\n",
				*configFile, cfg.Layers.Len(), cfg.NumWorkerThreads)
			return err
		},
	}
}

func newLayersCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "layers",
		Short: "List the configured layers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSOURCE LAYER\tTARGET TABLE\tDELETION\tMODE\tDESCRIPTION")
			for _, l := range cfg.Layers.All() {
				deletion := "no"
				if l.AllowFeatureDeletion {
					deletion = "yes"
				}
				mode := "merge"
				if l.BulkMode {
					mode = "bulk"
				}
				fmt.Fprintf(w, "%s\t%s\t%s.%s\t%s\t%s\t%s\n",
					l.Name, l.SourceLayer, l.TargetTableSchema, l.TargetTableName, deletion, mode, l.Description)
			}
			return w.Flush()
		},
	}
}
