package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cuemby/fdfs/pkg/health"
	"github.com/cuemby/fdfs/pkg/log"
	"github.com/cuemby/fdfs/pkg/metrics"
	"github.com/cuemby/fdfs/pkg/transport"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check trackers and every storage server they know",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		ctx := cmd.Context()

		var targets []health.Target
		trackers, err := transport.ParseEndpoints(cfg.Trackers)
		if err != nil {
			return err
		}
		for _, ep := range trackers {
			targets = append(targets, health.Target{Name: "tracker " + ep.String(), Checker: health.NewTCPChecker(ep)})
		}
		targets = append(targets, health.Target{Name: "tracker", Checker: health.NewActiveTestChecker(c.Tracker())})

		groups, err := c.ListGroups(ctx)
		if err != nil {
			return fmt.Errorf("failed to list groups: %w", err)
		}
		for _, g := range groups {
			servers, err := c.ListServers(ctx, g.Name, "")
			if err != nil {
				return fmt.Errorf("failed to list servers of %s: %w", g.Name, err)
			}
			for _, s := range servers {
				ep := transport.Endpoint{Host: s.IPAddr, Port: int(s.StoragePort)}
				sc, err := c.Storage(ep)
				if err != nil {
					return err
				}
				targets = append(targets, health.Target{
					Name:    fmt.Sprintf("%s %s (%s)", g.Name, ep, s.Status),
					Checker: health.NewActiveTestChecker(sc),
				})
			}
		}

		policy := health.DefaultPolicy()
		policy.Timeout = cfg.Timeout

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TARGET\tCHECK\tSTATUS\tTIME\tDETAIL")
		failed := 0
		for _, o := range health.Sweep(ctx, targets, policy) {
			verdict := "ok"
			if !o.OK {
				verdict = "FAIL"
				failed++
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", o.Name, o.Checker.Kind(), verdict, o.Took.Round(time.Millisecond), o.Detail)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d checks failed", failed, len(targets))
		}
		return nil
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Serve Prometheus metrics and health endpoints for the cluster",
	Long: `Poll the tracker on an interval and serve /metrics, /health,
/ready and /live until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := cfg.Metrics.Addr
		if cmd.Flags().Changed("addr") {
			addr, _ = cmd.Flags().GetString("addr")
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		reg := metrics.NewRegistry(Version)
		collector := metrics.NewCollector(c.Tracker(), reg, cfg.Metrics.Interval)
		collector.Start()
		defer collector.Stop()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", reg.HealthHandler())
		mux.Handle("/ready", reg.ReadyHandler())
		mux.Handle("/live", reg.LiveHandler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		log.Logger.Info().Str("addr", addr).Msg("Monitor listening")

		select {
		case <-cmd.Context().Done():
		case err := <-errCh:
			return fmt.Errorf("monitor server error: %w", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().String("addr", "", "Listen address (default from config metrics.addr)")
}
