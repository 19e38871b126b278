package drive

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"media-pipeline/domain/retrieval"
)

// mockDriveService is a mock implementation for testing
type mockDriveService struct {
	body        string
	contentType string
	err         error
	requested   []string
}

func (m *mockDriveService) Download(ctx context.Context, fileID string) (*http.Response, error) {
	m.requested = append(m.requested, fileID)
	if m.err != nil {
		return nil, m.err
	}
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(m.body)),
	}
	resp.Header.Set("Content-Type", m.contentType)
	return resp, nil
}

func driveRef(id string) retrieval.SourceRef {
	return retrieval.SourceRef{Raw: id, Type: retrieval.RefDrive, FileID: id}
}

func TestDownloader_Fetch(t *testing.T) {
	mock := &mockDriveService{body: "video-bytes", contentType: "video/mp4"}
	d, err := NewDownloader(context.Background(), "", WithDriveService(mock))
	if err != nil {
		t.Fatalf("NewDownloader: %v", err)
	}

	payload, err := d.Fetch(context.Background(), driveRef("file-123"))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer payload.Body.Close()

	data, _ := io.ReadAll(payload.Body)
	if string(data) != "video-bytes" || payload.ContentType != "video/mp4" {
		t.Errorf("unexpected payload %q (%s)", data, payload.ContentType)
	}
	if len(mock.requested) != 1 || mock.requested[0] != "file-123" {
		t.Errorf("unexpected requests %v", mock.requested)
	}
	if d.Name() != "drive-api" {
		t.Errorf("unexpected name %s", d.Name())
	}
}

func TestDownloader_FetchErrors(t *testing.T) {
	tests := []struct {
		name    string
		ref     retrieval.SourceRef
		err     error
		wantMsg string
	}{
		{
			name:    "not a drive ref",
			ref:     retrieval.SourceRef{Type: retrieval.RefURL, URL: "https://example.com/a.mp4"},
			wantMsg: "not a drive reference",
		},
		{
			name:    "api error",
			ref:     driveRef("file-123"),
			err:     &googleapi.Error{Code: 404, Message: "File not found"},
			wantMsg: "404 File not found",
		},
		{
			name:    "transport error",
			ref:     driveRef("file-123"),
			err:     errors.New("connection reset"),
			wantMsg: "connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := NewDownloader(context.Background(), "", WithDriveService(&mockDriveService{err: tt.err}))
			_, err := d.Fetch(context.Background(), tt.ref)
			if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("expected error containing %q, got %v", tt.wantMsg, err)
			}
		})
	}
}

func TestNewDownloader_MissingCredentials(t *testing.T) {
	_, err := NewDownloader(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	if err == nil {
		t.Fatal("expected error for missing credentials file")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	token := &oauth2.Token{AccessToken: "access", RefreshToken: "refresh", Expiry: time.Now().Add(time.Hour).Round(time.Second)}

	if err := saveToken(path, token); err != nil {
		t.Fatalf("saveToken: %v", err)
	}
	loaded, err := loadToken(path)
	if err != nil {
		t.Fatalf("loadToken: %v", err)
	}
	if loaded.AccessToken != "access" || loaded.RefreshToken != "refresh" || !loaded.Expiry.Equal(token.Expiry) {
		t.Errorf("unexpected token %+v", loaded)
	}
}

// staticTokenSource hands out a fixed sequence of tokens
type staticTokenSource struct {
	tokens []*oauth2.Token
}

func (s *staticTokenSource) Token() (*oauth2.Token, error) {
	t := s.tokens[0]
	if len(s.tokens) > 1 {
		s.tokens = s.tokens[1:]
	}
	return t, nil
}

func TestSavingTokenSource_PersistsRefresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	src := &savingTokenSource{
		base: &staticTokenSource{tokens: []*oauth2.Token{{AccessToken: "old"}, {AccessToken: "new"}}},
		file: path,
		last: "old",
	}

	if _, err := src.Token(); err != nil {
		t.Fatal(err)
	}
	if _, err := loadToken(path); err == nil {
		t.Error("unchanged token should not be written")
	}

	if _, err := src.Token(); err != nil {
		t.Fatal(err)
	}
	saved, err := loadToken(path)
	if err != nil || saved.AccessToken != "new" {
		t.Errorf("expected refreshed token saved, got %+v (err %v)", saved, err)
	}
}
