// Package fetch downloads package archives with progress reporting.
package fetch

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/scormview/pkg/errors"
	"github.com/odvcencio/scormview/pkg/observability"
)

const (
	// CacheBusterParam carries a per-attempt timestamp.
	CacheBusterParam = "_cb"
	// RequestIDParam carries a per-attempt request id.
	RequestIDParam = "_rid"

	knownSizeCap   = 99
	estimatedCap   = 95
	readBufferSize = 32 << 10
)

// ProgressFunc receives a percentage in [0,100].
type ProgressFunc func(percent int)

// Options configures a Client.
type Options struct {
	Timeout       time.Duration
	EstimateBytes int64
	UserAgent     string
}

// Client downloads archives over HTTP(S) or from file:// URLs.
type Client struct {
	http   *http.Client
	opts   Options
	logger *observability.Logger
	now    func() time.Time
}

// NewClient builds a Client. A nil httpClient gets a transport that also
// understands file:// URLs.
func NewClient(httpClient *http.Client, opts Options, logger *observability.Logger) *Client {
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.RegisterProtocol("file", http.NewFileTransport(http.Dir("/")))
		httpClient = &http.Client{Transport: transport}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.EstimateBytes <= 0 {
		opts.EstimateBytes = 25 << 20
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "scormview"
	}
	if logger == nil {
		logger = observability.Discard()
	}
	return &Client{http: httpClient, opts: opts, logger: logger, now: time.Now}
}

// Fetch downloads rawURL and returns its full body. onProgress, when set,
// sees strictly increasing percentages; 100 is reported exactly once and only
// for a successful non-empty download.
func (c *Client) Fetch(ctx context.Context, rawURL string, onProgress ProgressFunc) ([]byte, error) {
	ctx, span := observability.StartSpan(ctx, "fetch.archive")
	defer span.End()
	observability.SetAttributes(ctx, observability.AttrPackageURL.String(rawURL))

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	started := c.now()
	requestID := ulid.Make().String()
	target, err := c.attemptURL(rawURL, requestID)
	if err != nil {
		return nil, c.fail(ctx, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid package url").WithContext("url", rawURL))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, c.fail(ctx, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid package url").WithContext("url", rawURL))
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.fail(ctx, c.classify(ctx, rawURL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.fail(ctx, errors.Transport(rawURL, resp.StatusCode))
	}

	tracker := newTracker(resp.ContentLength, c.opts.EstimateBytes, onProgress)
	body, err := c.readBody(resp.Body, resp.ContentLength, tracker)
	if err != nil {
		return nil, c.fail(ctx, c.classify(ctx, rawURL, err))
	}
	if len(body) == 0 {
		return nil, c.fail(ctx, errors.EmptyArchive(rawURL))
	}
	tracker.complete()

	elapsed := c.now().Sub(started)
	observability.FetchBytes.Add(float64(len(body)))
	observability.FetchDuration.Observe(elapsed.Seconds())
	observability.SetAttributes(ctx, observability.AttrPackageBytes.Int(len(body)))
	c.logger.FetchCompleted(rawURL, len(body), float64(elapsed.Milliseconds()))
	return body, nil
}

func (c *Client) attemptURL(rawURL, requestID string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "https":
	case "file":
		return rawURL, nil
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set(CacheBusterParam, strconv.FormatInt(c.now().UnixNano(), 10))
	q.Set(RequestIDParam, requestID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) readBody(r io.Reader, contentLength int64, tracker *tracker) ([]byte, error) {
	var buf bytes.Buffer
	if contentLength > 0 {
		buf.Grow(int(contentLength))
	}
	chunk := make([]byte, readBufferSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			tracker.add(int64(n))
		}
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (c *Client) classify(ctx context.Context, rawURL string, err error) error {
	switch {
	case stderrors.Is(ctx.Err(), context.DeadlineExceeded) || stderrors.Is(err, context.DeadlineExceeded):
		return errors.Timeout(rawURL, err)
	case stderrors.Is(ctx.Err(), context.Canceled) || stderrors.Is(err, context.Canceled):
		return errors.Aborted("downloading", err)
	default:
		return errors.TransportFailure(rawURL, err)
	}
}

func (c *Client) fail(ctx context.Context, err error) error {
	observability.FetchErrors.WithLabelValues(string(errors.GetCode(err))).Inc()
	observability.RecordError(ctx, err)
	return err
}

// tracker converts received byte counts into capped, strictly increasing
// percentages.
type tracker struct {
	total     int64
	estimated bool
	received  int64
	last      int
	report    ProgressFunc
}

func newTracker(contentLength, estimate int64, report ProgressFunc) *tracker {
	t := &tracker{total: contentLength, last: -1, report: report}
	if contentLength <= 0 {
		t.total = estimate
		t.estimated = true
	}
	return t
}

func (t *tracker) add(n int64) {
	t.received += n
	limit := knownSizeCap
	if t.estimated {
		limit = estimatedCap
	}
	pct := int(t.received * 100 / t.total)
	if pct > limit {
		pct = limit
	}
	t.emit(pct)
}

func (t *tracker) complete() {
	t.emit(100)
}

func (t *tracker) emit(pct int) {
	if pct <= t.last {
		return
	}
	t.last = pct
	if t.report != nil {
		t.report(pct)
	}
}
