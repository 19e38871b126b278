package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"media-pipeline/infrastructure/config"
	"media-pipeline/infrastructure/logging"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
	cfgErr  error
)

var rootCmd = &cobra.Command{
	Use:   "media-pipeline",
	Short: "Video post-production pipeline",
	Long: `media-pipeline downloads source videos and runs them through a staged
post-production pipeline:

  - Retrieve a source from Google Drive, a URL or an upload
  - Extract a mono 16kHz audio track
  - Remove segments with a filter graph or a list of cuts
  - Composite background music, burned-in subtitles and a thumbnail intro

Run it as an HTTP service with 'serve', or process one source with 'process'.

Example:
  media-pipeline serve --config config/config.yaml
  media-pipeline process --source https://drive.google.com/file/d/<id>/view --cut 00:00:05-00:00:12`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config/config.yaml)")
}

func initConfig() {
	if cfgFile == "" {
		cfgFile = "config/config.yaml"
	}
	cfg, cfgErr = config.LoadOrDefault(cfgFile)
}

// GetConfig returns the loaded configuration
func GetConfig() (*config.Config, error) {
	if cfgErr != nil {
		return nil, fmt.Errorf("load %s: %w", cfgFile, cfgErr)
	}
	if cfg == nil {
		return config.Defaults(), nil
	}
	return cfg, nil
}

// newLogger builds the structured logger described by the logging section
func newLogger(c *config.Config, out io.Writer) (*slog.Logger, error) {
	return logging.New(logging.Options{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: out,
	})
}
