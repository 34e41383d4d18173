package voxapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"voxeliser/internal/config"
	"voxeliser/internal/fileutil"
	"voxeliser/internal/jobs"
	"voxeliser/internal/logging"
	"voxeliser/internal/services"
)

// HTTPDoer describes the HTTP client used by the API client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a remote API client. The zero value is not usable; construct
// with New or NewFromConfig.
type Client struct {
	baseURL        string
	client         HTTPDoer
	requestTimeout time.Duration
	strictUpload   bool
	logger         *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.client = doer
		}
	}
}

// WithRequestTimeout bounds each request; zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// WithStrictUpload makes a non-success attach-file status an upload failure.
func WithStrictUpload(strict bool) Option {
	return func(c *Client) { c.strictUpload = strict }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New constructs a client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  http.DefaultClient,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig constructs a client from the api section of cfg.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *Client {
	return New(cfg.API.BaseURL,
		WithRequestTimeout(cfg.RequestTimeout()),
		WithStrictUpload(cfg.API.StrictUpload),
		WithLogger(logging.NewComponentLogger(logger, "voxapi")),
	)
}

// BaseURL returns the normalized API root.
func (c *Client) BaseURL() string { return c.baseURL }

// FetchPendingJobs lists meshes that have not been processed yet. Every
// failure is marked services.ErrTransient.
func (c *Client) FetchPendingJobs(ctx context.Context) ([]jobs.Record, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.send(ctx, http.MethodGet, "/meshes?processed=false", nil, "")
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "fetch", "list meshes", "request failed", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, services.Wrap(services.ErrTransient, "fetch", "list meshes", "unexpected response", err)
	}

	var records []jobs.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, services.Wrap(services.ErrTransient, "fetch", "decode meshes", "response is not a mesh list", err)
	}
	return records, nil
}

// Ping checks that the API answers at all; any HTTP status counts.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.send(ctx, http.MethodGet, "/meshes?processed=false", nil, "")
	if err != nil {
		return services.Wrap(services.ErrTransient, "preflight", "ping api", "request failed", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// DownloadURL resolves a file reference: absolute URLs are used as-is and
// paths are joined to the API root.
func (c *Client) DownloadURL(ref string) string {
	ref = strings.TrimSpace(ref)
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		return ref
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return c.baseURL + ref
}

// Download fetches ref into dest. dest only appears once the body has been
// fully received. Failures are marked services.ErrDownload.
func (c *Client) Download(ctx context.Context, ref, dest string) (int64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	target := c.DownloadURL(ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, services.Wrap(services.ErrDownload, "download", "build request", target, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, services.Wrap(services.ErrDownload, "download", "fetch mesh", target, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return 0, services.Wrap(services.ErrDownload, "download", "fetch mesh", target, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, services.Wrap(services.ErrDownload, "download", "prepare directory", dest, err)
	}
	n, err := fileutil.WriteFileAtomic(dest, resp.Body, 0o644)
	if err != nil {
		return n, services.Wrap(services.ErrDownload, "download", "write mesh", dest, err)
	}
	c.logger.Debug("mesh downloaded",
		logging.String("url", target),
		logging.String("path", dest),
		logging.Int64("bytes", n),
	)
	return n, nil
}

// CreateVolume creates an empty volume record and returns its id.
func (c *Client) CreateVolume(ctx context.Context) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.send(ctx, http.MethodPost, "/volumes", nil, "")
	if err != nil {
		return "", services.Wrap(services.ErrUpload, "upload", "create volume", "request failed", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", services.Wrap(services.ErrUpload, "upload", "create volume", "unexpected response", err)
	}
	var payload struct {
		ID       jobs.FlexString `json:"id"`
		LegacyID jobs.FlexString `json:"_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", services.Wrap(services.ErrUpload, "upload", "create volume", "decode response", err)
	}
	id := strings.TrimSpace(string(payload.ID))
	if id == "" {
		id = strings.TrimSpace(string(payload.LegacyID))
	}
	if id == "" {
		return "", services.Wrap(services.ErrUpload, "upload", "create volume", "response has no id", nil)
	}
	return id, nil
}

// AttachFile uploads the volume file at path and attaches it to volumeID.
// A non-success status is logged and only returned as an error in strict
// mode.
func (c *Client) AttachFile(ctx context.Context, volumeID, path string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	file, err := os.Open(path)
	if err != nil {
		return services.Wrap(services.ErrUpload, "upload", "open volume", path, err)
	}
	defer file.Close()

	body, contentType := multipartBody(file, filepath.Base(path), map[string]string{
		"refId": volumeID,
		"ref":   "volume",
		"field": "file",
	})
	defer body.Close()

	resp, err := c.send(ctx, http.MethodPost, "/upload", body, contentType)
	if err != nil {
		return services.Wrap(services.ErrUpload, "upload", "attach file", "request failed", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		if c.strictUpload {
			return services.Wrap(services.ErrUpload, "upload", "attach file", "unexpected response", err)
		}
		c.logger.Warn("volume upload returned non-success status; continuing",
			logging.String("volume_id", volumeID),
			logging.Int("status", resp.StatusCode),
			logging.String(logging.FieldEventType, "upload_status_ignored"),
			logging.String(logging.FieldErrorHint, "set api.strict_upload to treat this as a failure"),
			logging.Alert("upload_status"),
		)
	}
	return nil
}

// UploadVolume creates a volume record and attaches the file at path,
// returning the new volume id.
func (c *Client) UploadVolume(ctx context.Context, path string) (string, error) {
	volumeID, err := c.CreateVolume(ctx)
	if err != nil {
		return "", err
	}
	if err := c.AttachFile(ctx, volumeID, path); err != nil {
		return "", err
	}
	return volumeID, nil
}

// LinkVolume records the mesh/volume relation on both records.
func (c *Client) LinkVolume(ctx context.Context, meshID, volumeID string) error {
	if err := c.putForm(ctx, "/volumes/"+url.PathEscape(volumeID), url.Values{"mesh": {meshID}}, "link volume"); err != nil {
		return err
	}
	return c.putForm(ctx, "/meshes/"+url.PathEscape(meshID), url.Values{"volume": {volumeID}}, "link mesh")
}

// MarkProcessed flags the mesh as processed so it is no longer listed.
func (c *Client) MarkProcessed(ctx context.Context, meshID string) error {
	return c.putForm(ctx, "/meshes/"+url.PathEscape(meshID), url.Values{"processed": {"true"}}, "mark processed")
}

func (c *Client) putForm(ctx context.Context, path string, form url.Values, op string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.send(ctx, http.MethodPut, path, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return services.Wrap(services.ErrLink, "link", op, "request failed", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return services.Wrap(services.ErrLink, "link", op, "unexpected response", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	return c.client.Do(req)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout > 0 {
		return context.WithTimeout(ctx, c.requestTimeout)
	}
	return context.WithCancel(ctx)
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
}

// multipartBody streams the file part and form fields through a pipe so the
// volume is never held in memory.
func multipartBody(file io.Reader, fileName string, fields map[string]string) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeMultipart(mw, file, fileName, fields)
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()
	return pr, mw.FormDataContentType()
}

func writeMultipart(mw *multipart.Writer, file io.Reader, fileName string, fields map[string]string) error {
	for _, key := range []string{"refId", "ref", "field"} {
		if value, ok := fields[key]; ok {
			if err := mw.WriteField(key, value); err != nil {
				return err
			}
		}
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, fileName))
	header.Set("Content-Type", "application/octet-stream")
	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, file)
	return err
}
