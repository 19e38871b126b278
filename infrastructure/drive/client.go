package drive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"media-pipeline/domain/retrieval"
)

// DriveService defines the interface for Google Drive API operations
// This allows mocking the Google Drive API in tests
type DriveService interface {
	// Download opens the content of a file
	Download(ctx context.Context, fileID string) (*http.Response, error)
}

// GoogleDriveService is the production implementation using the Google Drive API
type GoogleDriveService struct {
	service *drive.Service
}

// Download fetches file media, including files on shared drives
func (s *GoogleDriveService) Download(ctx context.Context, fileID string) (*http.Response, error) {
	return s.service.Files.Get(fileID).
		SupportsAllDrives(true).
		Context(ctx).
		Download()
}

// Downloader is the authenticated rung of the Drive retrieval ladder
type Downloader struct {
	driveService DriveService
}

// DownloaderOption is a functional option for configuring Downloader
type DownloaderOption func(*Downloader)

// WithDriveService sets a custom drive service (for testing)
func WithDriveService(svc DriveService) DownloaderOption {
	return func(d *Downloader) {
		d.driveService = svc
	}
}

// NewDownloader creates a Drive API downloader from a service account key.
// If no drive service option is provided, a real one is initialized.
func NewDownloader(ctx context.Context, credentialsPath string, opts ...DownloaderOption) (*Downloader, error) {
	d := &Downloader{}

	for _, opt := range opts {
		opt(d)
	}

	if d.driveService == nil {
		svc, err := newServiceAccountDriveService(ctx, credentialsPath)
		if err != nil {
			return nil, err
		}
		d.driveService = svc
	}

	return d, nil
}

// newServiceAccountDriveService creates a production Google Drive service
func newServiceAccountDriveService(ctx context.Context, credentialsPath string) (*GoogleDriveService, error) {
	b, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(b, drive.DriveReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := drive.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create drive service: %w", err)
	}

	return &GoogleDriveService{service: srv}, nil
}

// Name implements retrieval.Strategy
func (d *Downloader) Name() string {
	return "drive-api"
}

// Fetch implements retrieval.Strategy
func (d *Downloader) Fetch(ctx context.Context, ref retrieval.SourceRef) (*retrieval.Payload, error) {
	if ref.Type != retrieval.RefDrive || ref.FileID == "" {
		return nil, errors.New("not a drive reference")
	}

	resp, err := d.driveService.Download(ctx, ref.FileID)
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("drive api: %d %s", apiErr.Code, apiErr.Message)
		}
		return nil, fmt.Errorf("drive api: %w", err)
	}

	return &retrieval.Payload{Body: resp.Body, ContentType: resp.Header.Get("Content-Type")}, nil
}

// Ensure Downloader implements retrieval.Strategy
var _ retrieval.Strategy = (*Downloader)(nil)
