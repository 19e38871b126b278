package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"media-pipeline/infrastructure/config"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
)

// Prompter interface for interactive prompts (allows mocking in tests)
type Prompter interface {
	Input(message string, defaultValue string) (string, error)
	Confirm(message string, defaultValue bool) (bool, error)
}

// SurveyPrompter implements Prompter using the survey library
type SurveyPrompter struct{}

func (p *SurveyPrompter) Input(message string, defaultValue string) (string, error) {
	result := ""
	prompt := &survey.Input{
		Message: message,
		Default: defaultValue,
	}
	if err := survey.AskOne(prompt, &result); err != nil {
		return "", err
	}
	return result, nil
}

func (p *SurveyPrompter) Confirm(message string, defaultValue bool) (bool, error) {
	result := defaultValue
	prompt := &survey.Confirm{
		Message: message,
		Default: defaultValue,
	}
	if err := survey.AskOne(prompt, &result); err != nil {
		return false, err
	}
	return result, nil
}

// DefaultPrompter is the prompter used in production
var DefaultPrompter Prompter = &SurveyPrompter{}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create configuration file interactively",
	Long: `Prompts for configuration values and creates config.yaml.

This command guides you through the server address, storage paths,
ffmpeg location, artifact retention and optional Google Drive credentials.
Everything not asked for keeps its default.`,
	RunE: runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	return RunSetupWithPrompter(DefaultPrompter, cfgFile)
}

// RunSetupWithPrompter runs the setup with a given prompter (for testing)
func RunSetupWithPrompter(prompter Prompter, configPath string) error {
	// Check if config already exists
	if _, err := os.Stat(configPath); err == nil {
		overwrite, err := prompter.Confirm("config.yaml already exists. Overwrite?", false)
		if err != nil {
			return fmt.Errorf("prompt cancelled")
		}
		if !overwrite {
			fmt.Println("Setup cancelled.")
			return nil
		}
	}

	fmt.Println("Welcome to media-pipeline setup!")
	fmt.Println()

	cfg := config.Defaults()

	if err := promptServer(prompter, cfg); err != nil {
		return err
	}
	if err := promptPaths(prompter, cfg); err != nil {
		return err
	}
	if err := promptFFmpeg(prompter, cfg); err != nil {
		return err
	}
	if err := promptLifecycle(prompter, cfg); err != nil {
		return err
	}
	if err := promptGoogle(prompter, cfg); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Ensure config directory exists
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Save configuration
	if err := config.Save(cfg, configPath); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Println()
	fmt.Printf("Configuration saved to %s\n", configPath)
	return nil
}

func promptServer(prompter Prompter, cfg *config.Config) error {
	listen, err := prompter.Input("Address the HTTP server listens on?", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("prompt cancelled")
	}
	if listen != "" {
		cfg.Server.Listen = listen
	}

	maxUpload, err := prompter.Input("Largest accepted upload in bytes?", strconv.FormatInt(cfg.Server.MaxUploadBytes, 10))
	if err != nil {
		return fmt.Errorf("prompt cancelled")
	}
	if maxUpload != "" {
		n, err := strconv.ParseInt(maxUpload, 10, 64)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid upload limit %q", maxUpload)
		}
		cfg.Server.MaxUploadBytes = n
	}
	return nil
}

func promptPaths(prompter Prompter, cfg *config.Config) error {
	temp, err := prompter.Input("Where should intermediate files go?", cfg.Paths.TempDirectory)
	if err != nil {
		return fmt.Errorf("prompt cancelled")
	}
	if temp == "" {
		return fmt.Errorf("temp directory is required")
	}
	cfg.Paths.TempDirectory = temp

	persist, err := prompter.Confirm("Keep job records in a database across restarts?", false)
	if err != nil {
		return fmt.Errorf("prompt cancelled")
	}
	if !persist {
		return nil
	}
	db, err := prompter.Input("Path to the job database?", "data/jobs.db")
	if err != nil {
		return fmt.Errorf("prompt cancelled")
	}
	if db == "" {
		return fmt.Errorf("database path is required")
	}
	cfg.Paths.Database = db
	return nil
}

func promptFFmpeg(prompter Prompter, cfg *config.Config) error {
	ffmpegPath, err := prompter.Input("Path to ffmpeg?", cfg.FFmpeg.FFmpegPath)
	if err != nil {
		return fmt.Errorf("prompt cancelled")
	}
	if ffmpegPath != "" {
		cfg.FFmpeg.FFmpegPath = ffmpegPath
	}

	ffprobePath, err := prompter.Input("Path to ffprobe?", cfg.FFmpeg.FFprobePath)
	if err != nil {
		return fmt.Errorf("prompt cancelled")
	}
	if ffprobePath != "" {
		cfg.FFmpeg.FFprobePath = ffprobePath
	}

	timeout, err := promptDuration(prompter, "Transcode time limit?", cfg.FFmpeg.Timeout)
	if err != nil {
		return err
	}
	cfg.FFmpeg.Timeout = timeout
	return nil
}

func promptLifecycle(prompter Prompter, cfg *config.Config) error {
	retention, err := promptDuration(prompter, "How long are artifacts kept?", cfg.Lifecycle.Retention)
	if err != nil {
		return err
	}
	cfg.Lifecycle.Retention = retention

	interval, err := promptDuration(prompter, "How often does the sweeper run?", cfg.Lifecycle.SweepInterval)
	if err != nil {
		return err
	}
	cfg.Lifecycle.SweepInterval = interval
	return nil
}

func promptGoogle(prompter Prompter, cfg *config.Config) error {
	useDrive, err := prompter.Confirm("Use the Google Drive API for private files?", false)
	if err != nil {
		return fmt.Errorf("prompt cancelled")
	}
	if !useDrive {
		return nil
	}

	credentials, err := prompter.Input("Path to Google credentials file?", "credentials.json")
	if err != nil {
		return fmt.Errorf("prompt cancelled")
	}
	if credentials == "" {
		credentials = "credentials.json"
	}
	cfg.Google.CredentialsFile = credentials

	oauth, err := prompter.Confirm("Is it an OAuth client (rather than a service account key)?", false)
	if err != nil {
		return fmt.Errorf("prompt cancelled")
	}
	if !oauth {
		return nil
	}
	token, err := prompter.Input("Where should the OAuth token be saved?", "token.json")
	if err != nil {
		return fmt.Errorf("prompt cancelled")
	}
	if token == "" {
		token = "token.json"
	}
	cfg.Google.TokenFile = token
	fmt.Println("Run 'media-pipeline drive-auth' to authorize access.")
	return nil
}

func promptDuration(prompter Prompter, message string, current config.Duration) (config.Duration, error) {
	answer, err := prompter.Input(message, current.Std().String())
	if err != nil {
		return 0, fmt.Errorf("prompt cancelled")
	}
	if answer == "" {
		return current, nil
	}
	d, err := time.ParseDuration(answer)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid duration %q", answer)
	}
	return config.Duration(d), nil
}
