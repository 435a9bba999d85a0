package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrUnauthorized = errors.New("not logged in or session expired")
	ErrNotFound     = errors.New("file not found")
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type File struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	HumanSize  string    `json:"human_size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type Download struct {
	ID            int64     `json:"id"`
	ClientAddress string    `json:"client_address"`
	DownloadedAt  time.Time `json:"downloaded_at"`
}

type DeleteResult struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	MetadataDeleted  bool   `json:"metadata_deleted"`
	BytesRemoved     bool   `json:"bytes_removed"`
	DownloadsRemoved int64  `json:"downloads_removed"`
}

type Stats struct {
	TotalFiles     int64  `json:"total_files"`
	TotalDownloads int64  `json:"total_downloads"`
	StorageUsed    int64  `json:"storage_used_bytes"`
	StorageHuman   string `json:"storage_used_human"`
	RemoveFailures int64  `json:"remove_failures"`
}

// Client calls the sharebox HTTP API.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
}

// New creates a client for the server at baseURL. token may be empty for
// public calls.
func New(baseURL, token string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", baseURL)
	}
	return &Client{baseURL: u, token: token, http: &http.Client{}}, nil
}

// Token returns the session token the client sends.
func (c *Client) Token() string {
	return c.token
}

// Login exchanges credentials for a session token and keeps it on the client.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return "", err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/admin/login", strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	c.token = out.Token
	return out.Token, nil
}

// Upload streams one item as a multipart form.
func (c *Client) Upload(ctx context.Context, u Upload) (*File, error) {
	src, err := u.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", u.Source, err)
	}
	defer src.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", u.Name)
		if err == nil {
			_, err = io.Copy(part, src)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/api/admin/upload", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var f File
	if err := c.do(req, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// List returns every file on the server, newest first.
func (c *Client) List(ctx context.Context) ([]File, error) {
	var files []File
	if err := c.get(ctx, "/api/files", &files); err != nil {
		return nil, err
	}
	return files, nil
}

// Info returns a single file.
func (c *Client) Info(ctx context.Context, id int64) (*File, error) {
	var f File
	if err := c.get(ctx, fmt.Sprintf("/api/files/%d", id), &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Stats returns server statistics.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	if err := c.get(ctx, "/api/stats", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// History returns the download history of a file. Requires a session.
func (c *Client) History(ctx context.Context, id int64) ([]Download, error) {
	var out []Download
	if err := c.get(ctx, fmt.Sprintf("/api/admin/files/%d/downloads", id), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a file. Requires a session.
func (c *Client) Delete(ctx context.Context, id int64) (*DeleteResult, error) {
	req, err := c.newRequest(ctx, http.MethodDelete, fmt.Sprintf("/api/admin/files/%d", id), nil)
	if err != nil {
		return nil, err
	}
	var res DeleteResult
	if err := c.do(req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Download saves a file into dir under the name the server suggests and
// returns the written path. A partial file is removed on failure.
func (c *Client) Download(ctx context.Context, id int64, dir string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/d/%d", id), nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp)
	}

	name := fmt.Sprintf("file-%d", id)
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		if fn := filepath.Base(params["filename"]); fn != "." && fn != "/" && fn != "" {
			name = fn
		}
	}

	dest := filepath.Join(dir, name)
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dest, err)
	}

	n, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err == nil && resp.ContentLength >= 0 && n != resp.ContentLength {
		err = fmt.Errorf("short download: got %d of %d bytes", n, resp.ContentLength)
	}
	if err != nil {
		os.Remove(dest)
		return "", err
	}
	return dest, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &body) == nil {
		if body.Error != "" {
			msg = body.Error
		} else if body.Message != "" {
			msg = body.Message
		}
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
