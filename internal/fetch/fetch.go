package fetch

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// Common errors.
var (
	// ErrNotFound is returned when no candidate yields content, on
	// either the plain or the relaxed-TLS pass.
	ErrNotFound = errors.New("fetch: no candidate yielded content")
)

// Accept headers, matching what image servers and IIIF endpoints
// expect.
const (
	acceptImage = "image/jpeg,image/*;q=0.8,*/*;q=0.5"
	acceptJSON  = "application/ld+json, application/json"
)

// Options configures the fetcher.
type Options struct {
	// Timeout bounds each individual request.
	// Default: 25s
	Timeout time.Duration

	// MaxRedirects is the redirect budget per request.
	// Default: 3
	MaxRedirects int

	// UserAgent identifies the service to upstream image servers.
	// Default: "zipserve/1.0"
	UserAgent string

	// MaxIdleConnsPerHost sets the idle connection pool size.
	// Default: 16
	MaxIdleConnsPerHost int
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:             25 * time.Second,
		MaxRedirects:        3,
		UserAgent:           "zipserve/1.0",
		MaxIdleConnsPerHost: 16,
	}
}

// Fetcher tries candidate URLs until one yields content.
type Fetcher struct {
	client   *http.Client
	insecure *http.Client
	opts     Options
}

// NewFetcher creates a fetcher with the given options.
func NewFetcher(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 25 * time.Second
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "zipserve/1.0"
	}
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = 16
	}

	checkRedirect := func(req *http.Request, via []*http.Request) error {
		if len(via) >= opts.MaxRedirects {
			return fmt.Errorf("fetch: stopped after %d redirects", opts.MaxRedirects)
		}
		return nil
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
	}
	insecureTransport := transport.Clone()
	insecureTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	return &Fetcher{
		client: &http.Client{
			Transport:     transport,
			Timeout:       opts.Timeout,
			CheckRedirect: checkRedirect,
		},
		insecure: &http.Client{
			Transport:     insecureTransport,
			Timeout:       opts.Timeout,
			CheckRedirect: checkRedirect,
		},
		opts: opts,
	}
}

// Fetch tries each candidate in order and returns the first non-empty
// body together with the inferred file extension. After the plain pass
// fails, https candidates get one relaxed-TLS retry pass before
// ErrNotFound is returned.
func (f *Fetcher) Fetch(ctx context.Context, candidates []string) ([]byte, string, error) {
	if body, ext, ok := f.pass(ctx, f.client, candidates); ok {
		return body, ext, nil
	}

	var httpsOnly []string
	for _, c := range candidates {
		if strings.HasPrefix(strings.ToLower(c), "https://") {
			httpsOnly = append(httpsOnly, c)
		}
	}
	if len(httpsOnly) > 0 {
		if body, ext, ok := f.pass(ctx, f.insecure, httpsOnly); ok {
			return body, ext, nil
		}
	}

	return nil, "", ErrNotFound
}

// pass runs one attempt over candidates with the given client.
func (f *Fetcher) pass(ctx context.Context, client *http.Client, candidates []string) ([]byte, string, bool) {
	for _, candidate := range candidates {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, candidate, nil)
		if err != nil {
			continue
		}
		req.Header.Set("Accept", acceptImage)
		req.Header.Set("User-Agent", f.opts.UserAgent)

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", false
			}
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 || len(body) == 0 {
			continue
		}
		return body, Extension(candidate, resp.Header.Get("Content-Type")), true
	}
	return nil, "", false
}

// Head returns the Content-Length reported for url, or an error when
// the request fails or the server does not report a usable size.
func (f *Fetcher) Head(ctx context.Context, rawurl string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawurl, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", acceptImage)
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("fetch: head %s: %s", rawurl, resp.Status)
	}
	if resp.ContentLength <= 0 {
		return 0, fmt.Errorf("fetch: head %s: no content length", rawurl)
	}
	return resp.ContentLength, nil
}

// GetJSON fetches url and returns its body after checking that it is
// valid JSON. Used for IIIF manifests and info.json probes.
func (f *Fetcher) GetJSON(ctx context.Context, rawurl string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", acceptJSON)
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch: get %s: %s", rawurl, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("fetch: get %s: not JSON", rawurl)
	}
	return body, nil
}

// Extension infers a file extension from the URL path suffix first,
// then from the response content type. Unknown types map to ".img".
func Extension(rawurl, contentType string) string {
	if u, err := url.Parse(rawurl); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		switch ext {
		case ".jpeg":
			return ".jpg"
		case ".tiff":
			return ".tif"
		case "":
		default:
			return ext
		}
	}
	switch {
	case strings.Contains(contentType, "image/jpeg"):
		return ".jpg"
	case strings.Contains(contentType, "image/jp2"):
		return ".jp2"
	case strings.Contains(contentType, "image/png"):
		return ".png"
	case strings.Contains(contentType, "image/tif"):
		return ".tif"
	default:
		return ".img"
	}
}
