package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shahamT/valley-luz/internal/pipeline"
	"github.com/shahamT/valley-luz/internal/queue"
	"github.com/shahamT/valley-luz/internal/server"
)

const shutdownTimeout = 15 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the intake server and pipeline worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		q := newJobQueue(env, cfg.Queue.Buffer)
		gate := pipeline.NewGate(env.Docs, q, env.confirmer(), env.Metrics)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", port),
			Handler: server.New(gate, env.Docs, server.Options{
				CORSOrigins: cfg.Server.CORSOrigins,
				Gatherer:    env.Registry,
				Ping:        env.Store.Ping,
			}).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return q.Run(gctx)
		})
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

// newJobQueue creates the single-worker queue that feeds the pipeline and
// reports its depth to the metrics gauge.
func newJobQueue(env *pipelineEnv, buffer int) *queue.Queue[pipeline.Job] {
	q := queue.New(buffer, func(ctx context.Context, job pipeline.Job) {
		env.Pipeline.Process(ctx, job)
	})
	if env.Metrics != nil {
		q.OnDepth(func(n int) { env.Metrics.QueueDepth.Set(float64(n)) })
	}
	return q
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
