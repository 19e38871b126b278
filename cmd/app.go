package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"media-pipeline/application/lifecycle"
	"media-pipeline/application/pipeline"
	"media-pipeline/domain/media"
	"media-pipeline/domain/retrieval"
	"media-pipeline/infrastructure/config"
	"media-pipeline/infrastructure/detection"
	"media-pipeline/infrastructure/drive"
	"media-pipeline/infrastructure/ffmpeg"
	"media-pipeline/infrastructure/filesystem"
	download "media-pipeline/infrastructure/retrieval"
	"media-pipeline/infrastructure/store"
)

// app holds the production dependencies shared by the commands
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     store.JobStore
	artifacts *lifecycle.Manager
	invoker   *ffmpeg.Invoker
	pipeline  *pipeline.Service
}

// appOptions tweaks wiring per command
type appOptions struct {
	allowLocal bool
	memoryOnly bool
}

func newApp(ctx context.Context, c *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	artifacts, err := lifecycle.NewManager(c.Paths.TempDirectory, lifecycle.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	dbPath := c.Paths.Database
	if opts.memoryOnly {
		dbPath = ""
	}
	jobs, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	invoker := ffmpeg.NewInvoker(
		ffmpeg.WithFFmpegPath(c.FFmpeg.FFmpegPath),
		ffmpeg.WithDefaultTimeout(c.FFmpeg.Timeout.Std()),
		ffmpeg.WithLogger(logger),
	)
	prober := ffmpeg.NewProber(
		ffmpeg.WithFFprobePath(c.FFmpeg.FFprobePath),
		ffmpeg.WithProbeTimeout(c.FFmpeg.ProbeTimeout.Std()),
	)

	clientOpts := []download.ClientOption{
		download.WithUserAgent(c.Retrieval.UserAgent),
		download.WithTimeout(c.Retrieval.Timeout.Std()),
		download.WithLogger(logger),
	}
	if c.Normalize.Enabled {
		clientOpts = append(clientOpts, download.WithNormalizer(invoker, normalizeSettings(c.Normalize)))
	}
	if api := driveStrategy(ctx, c.Google, logger); api != nil {
		clientOpts = append(clientOpts, download.WithAPIStrategy(api))
	}
	retriever := download.NewClient(artifacts, clientOpts...)

	geometry, err := fallbackGeometry(c.Thumbnail)
	if err != nil {
		jobs.Close()
		return nil, err
	}

	svc := pipeline.NewService(
		jobs,
		retriever,
		invoker,
		prober,
		detection.NewStillInspector(),
		filesystem.NewChecker(),
		artifacts,
		pipeline.WithLogger(logger),
		pipeline.WithFallbackGeometry(geometry),
		pipeline.WithNormalize(c.Normalize.Enabled),
		pipeline.WithLocalSources(opts.allowLocal),
	)

	return &app{
		cfg:       c,
		logger:    logger,
		store:     jobs,
		artifacts: artifacts,
		invoker:   invoker,
		pipeline:  svc,
	}, nil
}

// Close releases the job store
func (a *app) Close() error {
	return a.store.Close()
}

// driveStrategy builds the authenticated Drive API rung of the retrieval
// ladder. Without usable credentials the public download rungs still apply.
func driveStrategy(ctx context.Context, g config.GoogleConfig, logger *slog.Logger) retrieval.Strategy {
	if g.CredentialsFile == "" {
		return nil
	}

	var (
		d   *drive.Downloader
		err error
	)
	if g.TokenFile != "" {
		d, err = drive.NewDownloaderWithOAuth(ctx, drive.OAuthConfig{CredentialsFile: g.CredentialsFile, TokenFile: g.TokenFile})
	} else {
		d, err = drive.NewDownloader(ctx, g.CredentialsFile)
	}
	if err != nil {
		logger.Warn("drive api disabled", slog.Any("error", err))
		return nil
	}
	return d
}

func normalizeSettings(n config.NormalizeConfig) media.NormalizeSettings {
	return media.NormalizeSettings{
		MaxDimension: n.MaxDimension,
		CRF:          n.CRF,
		MaxRate:      n.MaxRate,
		BufSize:      n.BufSize,
		AudioBitrate: n.AudioBitrate,
	}
}

func fallbackGeometry(t config.ThumbnailConfig) (media.Geometry, error) {
	rate, err := media.ParseRational(t.DefaultFrameRate)
	if err != nil {
		return media.Geometry{}, fmt.Errorf("thumbnail.default_frame_rate: %w", err)
	}
	return media.Geometry{Width: t.DefaultWidth, Height: t.DefaultHeight, FrameRate: rate}, nil
}
