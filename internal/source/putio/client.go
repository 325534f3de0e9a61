package putio

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/putdotio/go-putio"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/italolelis/batch_downloader/internal/downloader/progress"
	"github.com/italolelis/batch_downloader/internal/logctx"
	"github.com/italolelis/batch_downloader/internal/media"
)

const (
	// ClientType labels telemetry for this source.
	ClientType = "putio"

	defaultRetryAfter = 30 * time.Second
	progressInterval  = 256 * 1024
	filePerm          = 0o644
)

// Config configures the Put.io source.
type Config struct {
	Token string
	// BaseURL overrides the API endpoint.
	BaseURL string
	// RequestsPerSecond limits API calls. Zero disables the limiter.
	RequestsPerSecond float64
	Burst             int
}

// Client reads media from Put.io folders. A target is a folder and its
// items are the files directly inside it; post ids are file ids.
type Client struct {
	putioClient *putio.Client
	httpClient  *http.Client
	limiter     *rate.Limiter
	// urlFor returns a temporary download link for a file.
	urlFor func(ctx context.Context, id int64) (string, error)
}

var _ media.Source = (*Client)(nil)

// NewClient creates a Put.io source authenticated with cfg.Token.
func NewClient(cfg Config) (*Client, error) {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})

	apiClient := &http.Client{
		Transport: &oauth2.Transport{
			Source: tokenSource,
			Base:   otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	putioClient := putio.NewClient(apiClient)

	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url: %w", err)
		}

		putioClient.BaseURL = u
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1))
	}

	c := &Client{
		putioClient: putioClient,
		httpClient:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		limiter:     limiter,
	}

	c.urlFor = func(ctx context.Context, id int64) (string, error) {
		return c.putioClient.Files.URL(ctx, id, false)
	}

	return c, nil
}

// Connect verifies the token by reading the account.
func (c *Client) Connect(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.InfoContext(ctx, "authenticating with Put.io")

	if err := c.limiter.Wait(ctx); err != nil {
		return &media.ConnectionError{Operation: "connect", Reason: "cancelled", Err: err}
	}

	user, err := c.putioClient.Account.Info(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to get account info", "err", err)

		if status := statusCode(err); status == http.StatusUnauthorized || status == http.StatusForbidden {
			return &media.ConnectionError{Operation: "connect", Reason: "invalid token", Err: err}
		}

		return &media.ConnectionError{Operation: "connect", Reason: "account lookup failed", Err: err}
	}

	logger.InfoContext(ctx, "authenticated with Put.io", "user", user.Username)

	return nil
}

// ResolveTarget accepts a folder id or a folder name in the root folder.
// "0" and "" mean the root folder.
func (c *Client) ResolveTarget(ctx context.Context, identifier string) (*media.Target, error) {
	identifier = strings.TrimSpace(identifier)

	if identifier == "" || identifier == "0" {
		return &media.Target{ID: 0, Title: "root"}, nil
	}

	if id, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		file, err := c.putioClient.Files.Get(ctx, id)
		if err != nil {
			return nil, classify("resolve_target", identifier, err)
		}

		if !file.IsDir() {
			return nil, &media.NotFoundError{Resource: "folder", ID: identifier}
		}

		return &media.Target{ID: file.ID, Title: file.Name}, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	children, _, err := c.putioClient.Files.List(ctx, 0)
	if err != nil {
		return nil, classify("resolve_target", identifier, err)
	}

	for _, f := range children {
		if f.IsDir() && strings.EqualFold(f.Name, identifier) {
			return &media.Target{ID: f.ID, Title: f.Name}, nil
		}
	}

	return nil, &media.NotFoundError{Resource: "folder", ID: identifier}
}

// FetchItem returns the file with id if it lives in target. Folders and
// files elsewhere are reported as absent.
func (c *Client) FetchItem(ctx context.Context, target *media.Target, id int64) (*media.Item, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	file, err := c.putioClient.Files.Get(ctx, id)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return nil, nil
		}

		return nil, classify("fetch_item", strconv.FormatInt(id, 10), err)
	}

	if file.IsDir() || file.ParentID != target.ID {
		return nil, nil
	}

	return toItem(file), nil
}

// SaveItem streams the file's content to destPath.
func (c *Client) SaveItem(ctx context.Context, item *media.Item, destPath string, onProgress media.ProgressFunc) error {
	logger := logctx.LoggerFromContext(ctx).With("file_id", item.ID)

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	link, err := c.urlFor(ctx, item.ID)
	if err != nil {
		return classify("save_item", strconv.FormatInt(item.ID, 10), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify("save_item", strconv.FormatInt(item.ID, 10), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError("save_item", strconv.FormatInt(item.ID, 10), resp)
	}

	total := item.Size
	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}

	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create target file: %w", err)
	}
	defer out.Close()

	reader := progress.NewReader(ctx, resp.Body, total, progressInterval, onProgress)

	written, err := io.Copy(out, reader)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		return &media.TransientError{Operation: "save_item", Err: err}
	}

	if total > 0 && written < total {
		return &media.TransientError{Operation: "save_item", Err: fmt.Errorf("short read: %d of %d bytes", written, total)}
	}

	logger.DebugContext(ctx, "saved file", "target", destPath, "bytes", written)

	return out.Sync()
}

// IterateItems lists the files directly inside target by id.
func (c *Client) IterateItems(ctx context.Context, target *media.Target, reverse bool) iter.Seq2[*media.Item, error] {
	return func(yield func(*media.Item, error) bool) {
		if err := c.limiter.Wait(ctx); err != nil {
			yield(nil, err)

			return
		}

		children, _, err := c.putioClient.Files.List(ctx, target.ID)
		if err != nil {
			yield(nil, classify("iterate_items", strconv.FormatInt(target.ID, 10), err))

			return
		}

		files := slices.DeleteFunc(children, func(f putio.File) bool { return f.IsDir() })

		slices.SortFunc(files, func(a, b putio.File) int {
			if reverse {
				return cmp.Compare(a.ID, b.ID)
			}

			return cmp.Compare(b.ID, a.ID)
		})

		for _, f := range files {
			if !yield(toItem(f), nil) {
				return
			}
		}
	}
}

// Disconnect releases idle connections.
func (c *Client) Disconnect(context.Context) error {
	c.httpClient.CloseIdleConnections()

	return nil
}

func toItem(f putio.File) *media.Item {
	return &media.Item{
		ID:   f.ID,
		Name: f.Name,
		Size: f.Size,
		MIME: f.ContentType,
		Kind: media.KindFromMIME(f.ContentType),
	}
}

func statusCode(err error) int {
	var errResp *putio.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		return errResp.Response.StatusCode
	}

	return 0
}

// classify maps API and network failures onto the media error taxonomy.
func classify(operation, id string, err error) error {
	var errResp *putio.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		return statusError(operation, id, errResp.Response)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if media.Classify(err) == media.ClassTransient {
		return &media.TransientError{Operation: operation, Err: err}
	}

	return err
}

func statusError(operation, id string, resp *http.Response) error {
	cause := fmt.Errorf("unexpected status %s", resp.Status)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &media.RateLimitedError{Wait: retryAfter(resp.Header.Get("Retry-After")), Err: cause}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &media.PermissionError{Resource: operation + " " + id, Err: cause}
	case resp.StatusCode == http.StatusNotFound:
		return &media.NotFoundError{Resource: "file", ID: id, Err: cause}
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusRequestTimeout:
		return &media.TransientError{Operation: operation, StatusCode: resp.StatusCode, Err: cause}
	default:
		return fmt.Errorf("%s %s: %w", operation, id, cause)
	}
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return defaultRetryAfter
	}

	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}

	if at, err := http.ParseTime(header); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait
		}

		return 0
	}

	return defaultRetryAfter
}
