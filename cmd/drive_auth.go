package cmd

import (
	"fmt"
	"os"

	"media-pipeline/infrastructure/drive"

	"github.com/spf13/cobra"
)

var driveAuthCmd = &cobra.Command{
	Use:   "drive-auth",
	Short: "Authorize Google Drive access for an OAuth client",
	Long: `Opens the Google consent page and saves the resulting token to
google.token_file. Needed once when google.credentials_file is an OAuth
client; service account keys need no authorization.`,
	RunE: runDriveAuth,
}

func init() {
	rootCmd.AddCommand(driveAuthCmd)
}

func runDriveAuth(cmd *cobra.Command, args []string) error {
	c, err := GetConfig()
	if err != nil {
		return err
	}
	if c.Google.CredentialsFile == "" || c.Google.TokenFile == "" {
		return fmt.Errorf("google.credentials_file and google.token_file must both be set; run 'media-pipeline setup' first")
	}

	return drive.Authorize(cmd.Context(), drive.OAuthConfig{
		CredentialsFile: c.Google.CredentialsFile,
		TokenFile:       c.Google.TokenFile,
	}, os.Stdout)
}
