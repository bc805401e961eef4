package volume

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/spacedriveapp/sdcore/internal/errs"
	"github.com/spacedriveapp/sdcore/internal/tokenfile"
)

// Cloud-backend retry policy, matching graph.Client's
// backoff shape (base 1s, factor 2x, max 60s, ±25% jitter, max 5
// retries) generalized from Microsoft Graph to any OAuth2-fronted cloud
// VolumeBackend (§6: "S3, Google Drive, Dropbox, OneDrive, Box, …").
const (
	cloudMaxRetries     = 5
	cloudBaseBackoff    = 1 * time.Second
	cloudMaxBackoff     = 60 * time.Second
	cloudBackoffFactor  = 2.0
	cloudJitterFraction = 0.25
)

// APIAdapter translates the uniform Backend calls into a specific cloud
// service's REST shape. Each supported service (S3, Google Drive,
// Dropbox, OneDrive, Box, …) implements one adapter; CloudBackend itself
// stays service-agnostic, owning only auth, retry, and the Backend
// interface.
type APIAdapter interface {
	// ListChildren returns the direct children of path.
	ListChildren(ctx context.Context, client *http.Client, path string) ([]Entry, error)
	// Stat returns path's metadata.
	Stat(ctx context.Context, client *http.Client, path string) (Metadata, error)
	// OpenRange opens path for reading the given byte range.
	OpenRange(ctx context.Context, client *http.Client, path string, r Range) (io.ReadCloser, error)
}

// CloudBackend implements Backend over an OAuth2-authenticated cloud
// service, delegating the service-specific request shape to an
// APIAdapter while owning token refresh and retry/backoff uniformly
// (§6 "cloud (S3, Google Drive, Dropbox, OneDrive, Box, …)... implement
// this uniformly").
type CloudBackend struct {
	adapter APIAdapter
	client  *http.Client
}

// NewCloud constructs a CloudBackend. tokenSource drives OAuth2 bearer
// token refresh transparently via oauth2.NewClient, wrapping a
// TokenSource-backed *http.Client the same way graph.Client does.
func NewCloud(ctx context.Context, tokenSource oauth2.TokenSource, adapter APIAdapter) *CloudBackend {
	return &CloudBackend{
		adapter: adapter,
		client:  oauth2.NewClient(ctx, tokenSource),
	}
}

// persistentTokenSource wraps an oauth2.TokenSource and rewrites the
// on-disk token file whenever the wrapped source hands back a token that
// differs from the last one seen, so a refreshed access token survives
// past process exit without a full re-login.
type persistentTokenSource struct {
	path     string
	meta     map[string]string
	wrapped  oauth2.TokenSource
	lastSeen string
}

func (p *persistentTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.wrapped.Token()
	if err != nil {
		return nil, fmt.Errorf("volume: refreshing cloud token: %w", err)
	}

	if tok.AccessToken != p.lastSeen {
		if saveErr := tokenfile.Save(p.path, tok, p.meta); saveErr != nil {
			return nil, fmt.Errorf("volume: persisting refreshed token: %w", saveErr)
		}

		p.lastSeen = tok.AccessToken
	}

	return tok, nil
}

// NewCloudFromTokenFile loads a previously saved OAuth2 token from path
// and returns a CloudBackend that writes refreshed tokens back to the
// same file as they are minted by cfg's TokenSource, so a long-running
// daemon process need not keep its tokens only in memory.
func NewCloudFromTokenFile(ctx context.Context, path string, cfg oauth2.Config, adapter APIAdapter) (*CloudBackend, error) {
	tok, meta, err := tokenfile.Load(path)
	if err != nil {
		return nil, fmt.Errorf("volume: loading cloud token: %w", err)
	}

	if tok == nil {
		return nil, fmt.Errorf("volume: no cloud token at %s (login required)", path)
	}

	base := cfg.TokenSource(ctx, tok)
	persisted := &persistentTokenSource{path: path, meta: meta, wrapped: base, lastSeen: tok.AccessToken}

	return NewCloud(ctx, oauth2.ReuseTokenSource(tok, persisted), adapter), nil
}

func (b *CloudBackend) ReadDir(ctx context.Context, path string, yield func(Entry) error) error {
	entries, err := withCloudRetry(ctx, func() ([]Entry, error) {
		return b.adapter.ListChildren(ctx, b.client, path)
	})
	if err != nil {
		return errs.Wrap(errs.ErrBackendFailure, "volume: cloud list "+path, err)
	}

	for _, e := range entries {
		if err := yield(e); err != nil {
			return err
		}
	}

	return nil
}

func (b *CloudBackend) Metadata(ctx context.Context, path string) (Metadata, error) {
	m, err := withCloudRetry(ctx, func() (Metadata, error) {
		return b.adapter.Stat(ctx, b.client, path)
	})
	if err != nil {
		return Metadata{}, errs.Wrap(errs.ErrBackendFailure, "volume: cloud stat "+path, err)
	}

	return m, nil
}

func (b *CloudBackend) Read(ctx context.Context, path string, r Range) (io.ReadCloser, error) {
	rc, err := b.adapter.OpenRange(ctx, b.client, path, r)
	if err != nil {
		return nil, errs.Wrap(errs.ErrBackendFailure, "volume: cloud read "+path, err)
	}

	return rc, nil
}

func (b *CloudBackend) LatencyClass() LatencyClass { return LatencyCloud }

// withCloudRetry retries a cloud API call with exponential backoff and
// jitter, matching graph.Client's retry loop (§7
// "BackendError — underlying I/O or cloud API failure (retriable:
// usually)"). Context cancellation aborts immediately without a retry.
func withCloudRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)

	for attempt := 0; attempt <= cloudMaxRetries; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		v, err := fn()
		if err == nil {
			return v, nil
		}

		lastErr = err

		if attempt == cloudMaxRetries {
			break
		}

		delay := cloudBackoffDelay(attempt)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("volume: cloud call failed after %d attempts: %w", cloudMaxRetries+1, lastErr)
}

func cloudBackoffDelay(attempt int) time.Duration {
	backoff := float64(cloudBaseBackoff) * math.Pow(cloudBackoffFactor, float64(attempt))
	if backoff > float64(cloudMaxBackoff) {
		backoff = float64(cloudMaxBackoff)
	}

	jitter := backoff * cloudJitterFraction * (rand.Float64()*2 - 1)

	return time.Duration(backoff + jitter)
}

// rangeHeader formats an HTTP Range header value for r, used by adapters
// implementing OpenRange against a REST byte-range API.
func rangeHeader(r Range) string {
	if r.End <= r.Start {
		return ""
	}

	return "bytes=" + strconv.FormatInt(r.Start, 10) + "-" + strconv.FormatInt(r.End-1, 10)
}

// decodeJSON is a small shared helper adapters use to parse list/stat
// responses without each repeating the same json.NewDecoder boilerplate.
func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}
