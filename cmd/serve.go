package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"media-pipeline/infrastructure/httpapi"

	"github.com/spf13/cobra"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline HTTP service",
	Long: `Run the pipeline as an HTTP service. Jobs are driven stage by stage:

  POST   /jobs                   create a job from {"source": ...} or a multipart "video" upload
  POST   /jobs/{id}/source       replace the source of an existing job
  POST   /jobs/{id}/audio        extract the audio track
  POST   /jobs/{id}/segments     remove segments ({"segments": [...]} or {"filter_graph": {...}})
  POST   /jobs/{id}/thumbnail    prepend a thumbnail intro
  POST   /jobs/{id}/composite    add music, subtitles and an optional intro
  GET    /jobs/{id}              job state
  GET    /jobs/{id}/audio        download the extracted audio
  GET    /jobs/{id}/final        download the final video
  DELETE /jobs/{id}              release every artifact of the job

A background sweep removes artifacts and jobs older than lifecycle.retention.
On SIGINT or SIGTERM the server drains and the sweeper stops. The temp
directory is removed once no stage is still writing into it.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (overrides server.listen)")
}

func runServe(cmd *cobra.Command, args []string) error {
	c, err := GetConfig()
	if err != nil {
		return err
	}
	if serveListen != "" {
		c.Server.Listen = serveListen
	}
	logger, err := newLogger(c, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, c, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	verifyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := a.invoker.VerifyInstalled(verifyCtx); err != nil {
		logger.Warn("ffmpeg not available; transcode stages will fail", slog.Any("error", err))
	}
	cancel()

	return serve(ctx, a)
}

// serve runs the API and the sweeper until ctx ends, then shuts down in order:
// server, sweeper, running stages, temp directory.
func serve(ctx context.Context, a *app) error {
	retention := a.cfg.Lifecycle.Retention.Std()

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.artifacts.Run(sweepCtx, a.cfg.Lifecycle.SweepInterval.Std(), retention, func(ctx context.Context) {
			n, err := a.pipeline.PurgeExpired(ctx, retention)
			if err != nil {
				a.logger.Warn("job purge incomplete", slog.Any("error", err))
			}
			if n > 0 {
				a.logger.Info("expired jobs purged", slog.Int("count", n))
			}
		})
	}()

	server := httpapi.NewServer(a.pipeline,
		httpapi.WithLogger(a.logger),
		httpapi.WithMaxUploadBytes(a.cfg.Server.MaxUploadBytes),
		httpapi.WithReadHeaderTimeout(a.cfg.Server.ReadTimeout.Std()),
		httpapi.WithDevelopment(a.cfg.Server.Development),
	)
	serveErr := server.Run(ctx, a.cfg.Server.Listen)

	stopSweep()
	wg.Wait()

	removeTempDir(a.pipeline, a.artifacts, a.logger, stageDrainTimeout)
	return serveErr
}

// stageDrainTimeout bounds how long shutdown waits for stages that outlived
// the HTTP drain
const stageDrainTimeout = time.Minute

type stageDrainer interface {
	Drain(ctx context.Context) error
}

type tempDirRemover interface {
	Shutdown() error
}

// removeTempDir deletes the temp directory once no stage is writing into it.
// If stages are still running after wait the directory is left in place.
func removeTempDir(stages stageDrainer, dir tempDirRemover, logger *slog.Logger, wait time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	if err := stages.Drain(ctx); err != nil {
		logger.Warn("stages still running at shutdown; temp directory kept", slog.Any("error", err))
		return
	}
	if err := dir.Shutdown(); err != nil {
		logger.Error("temp directory cleanup failed", slog.Any("error", err))
	}
}
