// Package drive speaks the Google Drive v3 wire protocol for backup files.
// The client is stateless with respect to authentication: every call takes a
// caller-supplied bearer token, and token lifecycle stays with the engine's
// TokenManager.
package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"ledgerback/internal/engine"
)

const (
	defaultBaseURL       = "https://www.googleapis.com/drive/v3"
	defaultUploadBaseURL = "https://www.googleapis.com/upload/drive/v3"

	// multipartBoundary separates the metadata and content parts of an
	// upload body. Fixed: snapshot documents are JSON and can never contain
	// this marker as a raw line.
	multipartBoundary = "lb_snapshot_9f81c2e4"

	defaultPageSize = 10
	defaultTimeout  = 60 * time.Second

	// maxErrorBody caps how much of a provider error response is read for
	// the error message. Bodies are logged, never surfaced verbatim.
	maxErrorBody = 4 << 10
)

// Options configures a Client. Zero values select production defaults.
type Options struct {
	// BaseURL and UploadBaseURL override the Drive endpoints, for tests.
	BaseURL       string
	UploadBaseURL string

	// FilePrefix is the naming convention List filters on.
	FilePrefix string

	// PageSize caps how many files List returns.
	PageSize int

	HTTPClient *http.Client
	Logger     engine.Logger
}

// Client implements engine.Storage against the Drive v3 REST API.
type Client struct {
	baseURL       string
	uploadBaseURL string
	filePrefix    string
	pageSize      int
	httpClient    *http.Client
	logger        engine.Logger
}

var _ engine.Storage = (*Client)(nil)

func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:       opts.BaseURL,
		uploadBaseURL: opts.UploadBaseURL,
		filePrefix:    opts.FilePrefix,
		pageSize:      opts.PageSize,
		httpClient:    opts.HTTPClient,
		logger:        opts.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.uploadBaseURL == "" {
		c.uploadBaseURL = defaultUploadBaseURL
	}
	if c.filePrefix == "" {
		c.filePrefix = "ledger-backup"
	}
	if c.pageSize <= 0 {
		c.pageSize = defaultPageSize
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if c.logger == nil {
		c.logger = engine.NewNopLogger()
	}
	return c
}

// driveFile is the wire representation of a file resource. Drive returns
// size as a decimal string.
type driveFile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	CreatedTime string `json:"createdTime"`
	Size        string `json:"size"`
}

func (f *driveFile) toBackupFile() *engine.BackupFile {
	created, _ := time.Parse(time.RFC3339, f.CreatedTime)
	size, _ := strconv.ParseInt(f.Size, 10, 64)
	return &engine.BackupFile{
		ID:        f.ID,
		Name:      f.Name,
		CreatedAt: created,
		SizeBytes: size,
	}
}

// Upload performs a multipart/related upload: a JSON metadata part naming the
// file, then the raw content part. Repeated calls create distinct files.
func (c *Client) Upload(ctx context.Context, token, name string, content []byte) (*engine.BackupFile, error) {
	meta, err := json.Marshal(map[string]string{
		"name":     name,
		"mimeType": "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("encoding upload metadata: %w", err)
	}

	var body bytes.Buffer
	fmt.Fprintf(&body, "--%s\r\nContent-Type: application/json; charset=UTF-8\r\n\r\n", multipartBoundary)
	body.Write(meta)
	fmt.Fprintf(&body, "\r\n--%s\r\nContent-Type: application/json\r\n\r\n", multipartBoundary)
	body.Write(content)
	fmt.Fprintf(&body, "\r\n--%s--", multipartBoundary)

	u := c.uploadBaseURL + "/files?uploadType=multipart&fields=id,name,createdTime,size"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return nil, fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "multipart/related; boundary="+multipartBoundary)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &engine.TransportError{Op: "upload", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.transportError("upload", resp)
	}

	var df driveFile
	if err := json.NewDecoder(resp.Body).Decode(&df); err != nil {
		return nil, &engine.TransportError{Op: "upload", Message: fmt.Sprintf("decoding response: %v", err)}
	}
	return df.toBackupFile(), nil
}

// List returns this application's non-trashed backup files, newest first,
// capped to the configured page size.
func (c *Client) List(ctx context.Context, token string) ([]*engine.BackupFile, error) {
	q := url.Values{}
	q.Set("q", fmt.Sprintf("trashed = false and name contains '%s'", c.filePrefix))
	q.Set("orderBy", "createdTime desc")
	q.Set("pageSize", strconv.Itoa(c.pageSize))
	q.Set("fields", "files(id,name,createdTime,size)")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building list request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &engine.TransportError{Op: "list", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.transportError("list", resp)
	}

	var listing struct {
		Files []driveFile `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, &engine.TransportError{Op: "list", Message: fmt.Sprintf("decoding response: %v", err)}
	}

	files := make([]*engine.BackupFile, 0, len(listing.Files))
	for i := range listing.Files {
		files = append(files, listing.Files[i].toBackupFile())
	}
	return files, nil
}

// Download fetches the raw content of one file by id.
func (c *Client) Download(ctx context.Context, token, fileID string) ([]byte, error) {
	u := fmt.Sprintf("%s/files/%s?alt=media", c.baseURL, url.PathEscape(fileID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &engine.TransportError{Op: "download", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.transportError("download", resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &engine.TransportError{Op: "download", Message: fmt.Sprintf("reading response: %v", err)}
	}
	return data, nil
}

// transportError builds a TransportError from a non-OK response. The raw
// provider body goes to the log; the error carries only a short summary.
func (c *Client) transportError(op string, resp *http.Response) *engine.TransportError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	c.logger.Debug("storage provider error response", "op", op, "status", resp.StatusCode, "body", string(raw))

	msg := resp.Status
	var providerErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &providerErr); err == nil && providerErr.Error.Message != "" {
		msg = providerErr.Error.Message
	}
	return &engine.TransportError{Op: op, Status: resp.StatusCode, Message: msg}
}
