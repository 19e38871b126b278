package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// callbackAddr is where the browser is redirected after consent
const callbackAddr = "localhost:8085"

// OAuthConfig holds the configuration for OAuth 2.0 authentication
type OAuthConfig struct {
	CredentialsFile string // Path to OAuth client credentials JSON
	TokenFile       string // Path to store/load token
}

func (c OAuthConfig) oauth2Config() (*oauth2.Config, error) {
	b, err := os.ReadFile(c.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read OAuth credentials file: %w", err)
	}
	config, err := google.ConfigFromJSON(b, drive.DriveReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse OAuth credentials: %w", err)
	}
	config.RedirectURL = "http://" + callbackAddr + "/callback"
	return config, nil
}

// NewDownloaderWithOAuth creates a Drive API downloader acting as a user.
// The token file must already exist; Authorize creates it.
func NewDownloaderWithOAuth(ctx context.Context, cfg OAuthConfig, opts ...DownloaderOption) (*Downloader, error) {
	d := &Downloader{}

	for _, opt := range opts {
		opt(d)
	}

	if d.driveService == nil {
		config, err := cfg.oauth2Config()
		if err != nil {
			return nil, err
		}
		token, err := loadToken(cfg.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("no saved Drive token at %s (run drive-auth first): %w", cfg.TokenFile, err)
		}

		src := &savingTokenSource{
			base: config.TokenSource(ctx, token),
			file: cfg.TokenFile,
			last: token.AccessToken,
		}
		srv, err := drive.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, src)))
		if err != nil {
			return nil, fmt.Errorf("unable to create drive service: %w", err)
		}
		d.driveService = &GoogleDriveService{service: srv}
	}

	return d, nil
}

// savingTokenSource persists refreshed tokens so restarts keep working
type savingTokenSource struct {
	base oauth2.TokenSource
	file string
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if token.AccessToken != s.last {
		s.last = token.AccessToken
		_ = saveToken(s.file, token)
	}
	return token, nil
}

// loadToken loads a token from a file
func loadToken(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	token := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(token)
	return token, err
}

// saveToken saves a token to a file readable only by the owner
func saveToken(file string, token *oauth2.Token) error {
	f, err := os.OpenFile(file, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(token)
}

// Authorize runs the installed-app consent flow in the browser and saves
// the resulting token to cfg.TokenFile
func Authorize(ctx context.Context, cfg OAuthConfig, out io.Writer) error {
	config, err := cfg.oauth2Config()
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", callbackAddr)
	if err != nil {
		return fmt.Errorf("listen for OAuth callback: %w", err)
	}

	state := fmt.Sprintf("media-pipeline-%d", os.Getpid())
	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			errChan <- errors.New("no code in callback")
			http.Error(w, "no authorization code received", http.StatusBadRequest)
			return
		}
		codeChan <- code
		fmt.Fprint(w, "<html><body><h1>Authorization successful</h1><p>You can close this window.</p></body></html>")
	})

	server := &http.Server{Handler: mux}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	defer server.Shutdown(context.WithoutCancel(ctx))

	authURL := config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintln(out, "Opening browser for Google authentication...")
	fmt.Fprintln(out, "If the browser doesn't open, visit this URL:")
	fmt.Fprintln(out)
	fmt.Fprintln(out, authURL)
	fmt.Fprintln(out)
	openBrowser(authURL)

	var code string
	select {
	case code = <-codeChan:
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}

	token, err := config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("unable to exchange auth code: %w", err)
	}
	if err := saveToken(cfg.TokenFile, token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}

	fmt.Fprintf(out, "Token saved to %s\n", cfg.TokenFile)
	return nil
}

// openBrowser opens a URL in the default browser
func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux":
		if _, err := exec.LookPath("xdg-open"); err == nil {
			cmd = exec.Command("xdg-open", url)
		} else if _, err := exec.LookPath("wslview"); err == nil {
			cmd = exec.Command("wslview", url)
		}
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	}

	if cmd != nil {
		_ = cmd.Start()
	}
}
