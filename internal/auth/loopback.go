package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/lu-zhengda/quotemail/internal/domain"
)

const (
	DefaultRedirectAddr = "127.0.0.1:4001"
	DefaultAuthTimeout  = 5 * time.Minute
)

// Scopes requested for the mailbox: read, send and relabel.
var Scopes = []string{
	gmailapi.GmailReadonlyScope,
	gmailapi.GmailSendScope,
	gmailapi.GmailModifyScope,
}

// LoopbackConfig configures a LoopbackAuthority. Zero values fall back to
// Google's endpoint, DefaultRedirectAddr, DefaultAuthTimeout and stdout.
type LoopbackConfig struct {
	ClientID     string
	ClientSecret string
	Endpoint     oauth2.Endpoint
	Addr         string
	Timeout      time.Duration
	Out          io.Writer
	// OpenBrowser is called with the authorization URL. Optional.
	OpenBrowser func(url string) error
}

// LoopbackAuthority obtains tokens with the authorization code flow and
// PKCE, receiving the code on a short-lived local HTTP listener.
type LoopbackAuthority struct {
	config      oauth2.Config
	addr        string
	timeout     time.Duration
	out         io.Writer
	openBrowser func(string) error
	log         zerolog.Logger
}

// NewLoopbackAuthority returns ErrMissingCredentials when the client ID or
// secret is empty.
func NewLoopbackAuthority(cfg LoopbackConfig, log zerolog.Logger) (*LoopbackAuthority, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}
	a := &LoopbackAuthority{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     cfg.Endpoint,
			Scopes:       Scopes,
		},
		addr:        cfg.Addr,
		timeout:     cfg.Timeout,
		out:         cfg.Out,
		openBrowser: cfg.OpenBrowser,
		log:         log,
	}
	if a.config.Endpoint.TokenURL == "" {
		a.config.Endpoint = google.Endpoint
	}
	if a.addr == "" {
		a.addr = DefaultRedirectAddr
	}
	if a.timeout <= 0 {
		a.timeout = DefaultAuthTimeout
	}
	if a.out == nil {
		a.out = os.Stdout
	}
	return a, nil
}

// Refresh exchanges a refresh token for a new credential.
func (a *LoopbackAuthority) Refresh(ctx context.Context, refreshToken string) (*domain.Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	// A token with no access token is never valid, so this always refreshes.
	src := a.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	return credentialFromToken(tok), nil
}

type callbackResult struct {
	code string
	err  error
}

// Authorize runs one interactive authorization attempt. The listener lives
// only for the attempt and the wait is bounded by the configured timeout.
func (a *LoopbackAuthority) Authorize(ctx context.Context) (*domain.Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	listener, err := net.Listen("tcp", a.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start callback server: %w", err)
	}

	conf := a.config
	conf.RedirectURL = "http://" + listener.Addr().String()

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	resultCh := make(chan callbackResult, 1)
	deliver := func(r callbackResult) {
		select {
		case resultCh <- r:
		default:
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("state") != state {
			deliver(callbackResult{err: errors.New("state mismatch in callback")})
			fmt.Fprint(w, "Authentication failed. You can close this tab.")
			return
		}
		code := q.Get("code")
		if code == "" {
			deliver(callbackResult{err: fmt.Errorf("no code in callback: %s", q.Get("error"))})
			fmt.Fprint(w, "Authentication failed. You can close this tab.")
			return
		}
		deliver(callbackResult{code: code})
		fmt.Fprint(w, "Authentication successful! You can close this tab.")
	})

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go server.Serve(listener)
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		server.Shutdown(shutdownCtx)
	}()

	url := conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier),
	)
	fmt.Fprintf(a.out, "\nOpen this URL in your browser to authorize quotemail:\n\n  %s\n\nWaiting for authorization...\n", url)
	if a.openBrowser != nil {
		if err := a.openBrowser(url); err != nil {
			a.log.Warn().Err(err).Msg("could not open browser")
		}
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		tok, err := conf.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
		if err != nil {
			return nil, fmt.Errorf("failed to exchange auth code: %w", err)
		}
		return credentialFromToken(tok), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("timed out waiting for authorization: %w", ctx.Err())
	}
}

func credentialFromToken(tok *oauth2.Token) *domain.Credential {
	return &domain.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresOn:    tok.Expiry,
	}
}
