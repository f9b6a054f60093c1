package pkgfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/open-edge-platform/cookbook-sync/internal/cookbook"
	"github.com/open-edge-platform/cookbook-sync/internal/utils/logger"
	"github.com/open-edge-platform/cookbook-sync/internal/utils/network"
)

// Defaults for a Downloader built from a zero Config.
const (
	DefaultAttempts        = 4
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultTimeout         = 5 * time.Minute
)

// Config controls retrying and timeouts.
type Config struct {
	Attempts        int           // total tries per request, including the first
	InitialInterval time.Duration // first backoff delay, doubled on every retry
	Timeout         time.Duration // per-request timeout
	Client          *http.Client  // defaults to network.NewSecureHTTPClient
}

// Downloader fetches catalogs and artifacts over HTTP(S) or file:// with
// bounded exponential backoff.
type Downloader struct {
	client          *http.Client
	attempts        int
	initialInterval time.Duration
}

// NewDownloader applies defaults to cfg.
func NewDownloader(cfg Config) *Downloader {
	if cfg.Attempts < 1 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultInitialInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := cfg.Client
	if client == nil {
		client = network.NewSecureHTTPClient(cfg.Timeout)
	}
	return &Downloader{
		client:          client,
		attempts:        cfg.Attempts,
		initialInterval: cfg.InitialInterval,
	}
}

// StatusError is a non-200 response.
type StatusError struct {
	URL    string
	Status string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: bad status: %s", e.URL, e.Status)
}

// retryable reports whether a response code is worth another attempt.
func (e *StatusError) retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

// Fetch GETs url and hands the response to consume. The request and
// consume are retried together when the request fails transiently or the
// body breaks mid-read, so consume must tolerate being called again with a
// fresh body. Errors consume returns for other reasons are not retried.
func (d *Downloader) Fetch(ctx context.Context, url string, consume func(resp *http.Response, body io.Reader) error) error {
	return d.fetch(ctx, url, nil, consume)
}

func (d *Downloader) fetch(ctx context.Context, url string, header http.Header, consume func(resp *http.Response, body io.Reader) error) error {
	log := logger.Logger()

	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("building request for %s: %w", url, err))
		}
		for k, v := range header {
			req.Header[k] = v
		}

		resp, err := d.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("GET %s: %w", url, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			serr := &StatusError{URL: url, Status: resp.Status, Code: resp.StatusCode}
			if serr.retryable() {
				return serr
			}
			return backoff.Permanent(serr)
		}

		body := &trackingReader{r: resp.Body}
		if err := consume(resp, body); err != nil {
			if body.err != nil && ctx.Err() == nil {
				return fmt.Errorf("reading %s: %w", url, err)
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		log.Warnf("attempt %d/%d for %s failed: %v; retrying in %s", attempt, d.attempts, url, err, wait.Round(time.Millisecond))
	}

	if err := backoff.RetryNotify(op, d.policy(ctx), notify); err != nil {
		return err
	}
	logger.GlobalStringListReport.Add(url)
	return nil
}

// Get fetches url fully into memory.
func (d *Downloader) Get(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	err := d.Fetch(ctx, url, func(_ *http.Response, body io.Reader) error {
		var err error
		data, err = io.ReadAll(body)
		return err
	})
	return data, err
}

// FetchArtifact streams the artifact at url into consume. Any failure is
// reported as ErrArtifactFetchFailed unless ctx was cancelled.
func (d *Downloader) FetchArtifact(ctx context.Context, url string, consume func(body io.Reader) error) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("empty download url: %w", cookbook.ErrArtifactFetchFailed)
	}
	err := d.Fetch(ctx, url, func(_ *http.Response, body io.Reader) error {
		return consume(body)
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	// errors carrying their own taxonomy pass through untouched
	if errors.Is(err, cookbook.ErrInvalidPathComponent) || errors.Is(err, cookbook.ErrDigestMismatch) ||
		errors.Is(err, cookbook.ErrImmutableContentViolation) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", url, cookbook.ErrArtifactFetchFailed, err)
}

func (d *Downloader) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.initialInterval
	exp.MaxInterval = 30 * d.initialInterval
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(d.attempts-1)), ctx)
}

// trackingReader remembers the first read error so Fetch can tell a broken
// body from a consumer failure.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}
