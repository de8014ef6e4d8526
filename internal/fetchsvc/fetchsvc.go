// Package fetchsvc implements fetch(uri, dest): download over HTTP with
// optional Range-based resume, a bandwidth limiter and proxy selection
// from configuration/environment. Progress is reported through a plain
// sink interface rather than a captured mutable handler, so a caller
// can swap in a different reporting strategy without touching the
// fetch loop itself.
package fetchsvc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/solus-project/eopkg-core/internal/model"
)

// Progress is one update emitted while a fetch is in flight.
type Progress struct {
	URI            string
	BytesReceived  int64
	TotalBytes     int64 // 0 if unknown (server omitted Content-Length)
}

// ProgressSink receives Progress updates. Implementations must not
// block for long; Report is called synchronously from the fetch loop.
type ProgressSink interface {
	Report(Progress)
}

// NopSink discards progress updates.
type NopSink struct{}

func (NopSink) Report(Progress) {}

// ProxySelector resolves the configured proxy URI for a URL scheme, or
// "" for none, matching internal/config.Config.ProxyFor's shape without
// creating an import-cycle dependency on the config package.
type ProxySelector func(scheme string) string

// Fetcher downloads package artifacts over HTTP(S)/FTP-via-HTTP-proxy.
type Fetcher struct {
	Client        *http.Client
	ProxyFor      ProxySelector
	BandwidthKBps int // 0 = unlimited
	Sink          ProgressSink

	limiter *rate.Limiter
}

func (f *Fetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

func (f *Fetcher) sink() ProgressSink {
	if f.Sink != nil {
		return f.Sink
	}
	return NopSink{}
}

func (f *Fetcher) rateLimiter() *rate.Limiter {
	if f.BandwidthKBps <= 0 {
		return nil
	}
	if f.limiter == nil {
		bytesPerSecond := rate.Limit(f.BandwidthKBps * 1024)
		f.limiter = rate.NewLimiter(bytesPerSecond, f.BandwidthKBps*1024)
	}
	return f.limiter
}

// Fetch downloads uri to dest, resuming a partial download already
// present at dest via HTTP Range when the server honors it. One
// attempt; the transaction planner is responsible for retry/backoff
// across attempts.
func (f *Fetcher) Fetch(ctx context.Context, uri, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return &model.FetchError{URI: uri, Kind: model.FetchTransient}
	}

	var resumeFrom int64
	if fi, err := os.Stat(dest); err == nil {
		resumeFrom = fi.Size()
		if resumeFrom > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
		}
	}

	client := f.client()
	if proxy := f.proxyFor(uri); proxy != "" {
		transport, err := proxyTransport(proxy)
		if err != nil {
			return &model.FetchError{URI: uri, Kind: model.FetchTransient}
		}
		clientCopy := *client
		clientCopy.Transport = transport
		client = &clientCopy
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return &model.FetchError{URI: uri, Kind: model.FetchTimeout}
		}
		return &model.FetchError{URI: uri, Kind: model.FetchTransient}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		resumeFrom = 0 // server ignored our Range: must restart
	case http.StatusPartialContent:
		// resuming as requested
	case http.StatusRequestedRangeNotSatisfiable:
		return &model.FetchError{URI: uri, Kind: model.FetchRangeUnsupported}
	case http.StatusNotFound, http.StatusGone:
		return &model.FetchError{URI: uri, Kind: model.FetchNotFound}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &model.FetchError{URI: uri, Kind: model.FetchAuthRefused}
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return &model.FetchError{URI: uri, Kind: model.FetchTimeout}
	default:
		return &model.FetchError{URI: uri, Kind: model.FetchTransient}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if resumeFrom > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(dest, flags, 0644)
	if err != nil {
		return err
	}
	defer out.Close()

	total := resumeFrom + resp.ContentLength
	if resp.ContentLength < 0 {
		total = 0
	}
	return f.copyWithProgress(ctx, uri, out, resp.Body, resumeFrom, total)
}

func (f *Fetcher) copyWithProgress(ctx context.Context, uri string, dst io.Writer, src io.Reader, startAt, total int64) error {
	limiter := f.rateLimiter()
	buf := make([]byte, 32*1024)
	received := startAt
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, n); err != nil {
					return &model.FetchError{URI: uri, Kind: model.FetchTimeout}
				}
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return err
			}
			received += int64(n)
			f.sink().Report(Progress{URI: uri, BytesReceived: received, TotalBytes: total})
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return &model.FetchError{URI: uri, Kind: model.FetchTransient}
		}
	}
}

func (f *Fetcher) proxyFor(rawURI string) string {
	if f.ProxyFor == nil {
		return ""
	}
	u, err := url.Parse(rawURI)
	if err != nil {
		return ""
	}
	return f.ProxyFor(strings.ToLower(u.Scheme))
}

func proxyTransport(proxy string) (*http.Transport, error) {
	u, err := url.Parse(proxy)
	if err != nil {
		return nil, err
	}
	return &http.Transport{Proxy: http.ProxyURL(u)}, nil
}

// WithTimeout returns a context bounded by the given timeout, the
// "configurable timeout" calls for on blocking fetches.
func WithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
