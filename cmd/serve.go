package cmd

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/districtmatch/internal/server"
)

var (
	serveAddr      string
	serveNoMetrics bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the match API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		addr := c.ListenAddr
		if cmd.Flags().Changed("addr") {
			addr = serveAddr
		}
		st, err := newEngine(c)
		if err != nil {
			return err
		}

		var m *server.Metrics
		if !serveNoMetrics {
			m = server.NewMetrics()
			if st.years != nil {
				st.years.OnLookup = func(_ int, hit bool) { m.CacheLookup("years", hit) }
			}
			st.engine.OnIndexLookup = func(hit bool) { m.CacheLookup("indexes", hit) }
		}
		srv := server.New(st.engine, server.Options{
			Defaults: server.Defaults{
				Year:      c.DefaultYear,
				Metric:    c.DefaultMetric,
				Impute:    c.DefaultImpute,
				Neighbors: c.DefaultNeighbors,
			},
			Metrics: m,
			Logger:  slog.Default(),
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return srv.ListenAndServe(ctx, addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveNoMetrics, "no-metrics", false, "disable the /metrics endpoint")
}
