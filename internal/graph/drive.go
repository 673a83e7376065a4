// Package graph talks to the Microsoft Graph document store: drive files over
// plain REST and SharePoint lists through the Graph SDK.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/wayfarer/wayfarer/internal/failure"
	"github.com/wayfarer/wayfarer/internal/retry"
	"golang.org/x/oauth2"
)

const (
	// MaxUploadBytes bounds a single simple upload.
	MaxUploadBytes = 4 << 20 // 4 MiB

	DefaultPageSize = 20
	maxPageSize     = 200

	maxResponseBytes = 8 << 20
)

// FileItem is a drive entry as returned to API callers.
type FileItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	WebURL      string `json:"webUrl,omitempty"`
	Size        int64  `json:"size"`
}

// FilePage is one page of a drive listing. NextLink is empty on the last page.
type FilePage struct {
	Files    []FileItem `json:"files"`
	NextLink string     `json:"nextLink,omitempty"`
}

type wireItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DownloadURL string `json:"@microsoft.graph.downloadUrl"`
	WebURL      string `json:"webUrl"`
	Size        int64  `json:"size"`
}

func (w wireItem) item() FileItem {
	return FileItem(w)
}

type wireCollection[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// Drive is a REST client for site and drive operations. Requests are
// authorized by an oauth2 transport that draws bearer tokens from the
// supplied token source.
type Drive struct {
	baseURL  string
	hostname string
	client   *http.Client
	policy   retry.Policy
}

type DriveOption func(*Drive)

// WithBaseTransport sets the transport underneath the oauth2 transport.
func WithBaseTransport(rt http.RoundTripper) DriveOption {
	return func(d *Drive) {
		d.client.Transport.(*oauth2.Transport).Base = rt
	}
}

func WithReadPolicy(policy retry.Policy) DriveOption {
	return func(d *Drive) {
		d.policy = policy
	}
}

func NewDrive(baseURL, hostname string, tokens oauth2.TokenSource, opts ...DriveOption) *Drive {
	d := &Drive{
		baseURL:  strings.TrimRight(baseURL, "/"),
		hostname: hostname,
		client: &http.Client{
			Transport: &oauth2.Transport{Source: tokens},
		},
		policy: retry.DefaultPolicy("graph"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SiteDetails returns the raw Graph representation of a site on the
// configured hostname.
func (d *Drive) SiteDetails(ctx context.Context, siteName string) (json.RawMessage, error) {
	if strings.TrimSpace(siteName) == "" {
		return nil, failure.New(failure.KindInvalidInput, "site details", "site name is required")
	}
	if d.hostname == "" {
		return nil, failure.New(failure.KindInvalidInput, "site details", "site hostname is not configured")
	}

	endpoint := fmt.Sprintf("%s/sites/%s:/sites/%s", d.baseURL, url.PathEscape(d.hostname), url.PathEscape(siteName))

	return retry.Execute(ctx, d.policy, func(ctx context.Context) (json.RawMessage, error) {
		payload, err := d.do(ctx, "site details", http.MethodGet, endpoint, nil, "")
		if err != nil {
			return nil, err
		}
		return json.RawMessage(payload), nil
	})
}

// DriveID returns the identifier of the first drive of a site.
func (d *Drive) DriveID(ctx context.Context, siteID string) (string, error) {
	endpoint := fmt.Sprintf("%s/sites/%s/drives", d.baseURL, url.PathEscape(siteID))

	drives, err := getJSON[wireCollection[wireItem]](ctx, d, "drive id", endpoint)
	if err != nil {
		return "", err
	}
	if len(drives.Value) == 0 || drives.Value[0].ID == "" {
		return "", failure.New(failure.KindNotFound, "drive id", "site %s has no drives", siteID)
	}

	return drives.Value[0].ID, nil
}

// ListFiles returns one page of the drive root. When next is set it must be a
// nextLink previously returned by this client, and pageSize is ignored.
func (d *Drive) ListFiles(ctx context.Context, siteID, driveID string, pageSize int, next string) (FilePage, error) {
	endpoint := next
	if endpoint == "" {
		if pageSize <= 0 {
			pageSize = DefaultPageSize
		}
		pageSize = min(pageSize, maxPageSize)
		endpoint = fmt.Sprintf("%s/children?$top=%s", d.driveRoot(siteID, driveID), strconv.Itoa(pageSize))
	} else if !strings.HasPrefix(next, d.baseURL+"/") {
		return FilePage{}, failure.New(failure.KindInvalidInput, "list files", "next link does not belong to the Graph API")
	}

	page, err := getJSON[wireCollection[wireItem]](ctx, d, "list files", endpoint)
	if err != nil {
		return FilePage{}, err
	}

	files := make([]FileItem, 0, len(page.Value))
	for _, w := range page.Value {
		files = append(files, w.item())
	}

	return FilePage{Files: files, NextLink: page.NextLink}, nil
}

// FolderChildren returns the names of the entries in a folder below the
// drive root.
func (d *Drive) FolderChildren(ctx context.Context, siteID, driveID, folder string) ([]string, error) {
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return nil, failure.New(failure.KindInvalidInput, "folder children", "folder is required")
	}

	endpoint := fmt.Sprintf("%s:/%s:/children", d.driveRoot(siteID, driveID), escapePath(folder))

	page, err := getJSON[wireCollection[wireItem]](ctx, d, "folder children", endpoint)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(page.Value))
	for _, w := range page.Value {
		names = append(names, w.Name)
	}
	return names, nil
}

// Upload replaces or creates fileName, optionally inside folder, with body.
// Uploads are not retried.
func (d *Drive) Upload(ctx context.Context, siteID, driveID, folder, fileName string, body []byte) (FileItem, error) {
	if strings.TrimSpace(fileName) == "" || strings.Contains(fileName, "/") {
		return FileItem{}, failure.New(failure.KindInvalidInput, "upload", "a plain file name is required")
	}
	if len(body) > MaxUploadBytes {
		return FileItem{}, failure.New(failure.KindInvalidInput, "upload", "file exceeds %d bytes", MaxUploadBytes)
	}

	target := url.PathEscape(fileName)
	if folder = strings.Trim(folder, "/"); folder != "" {
		target = escapePath(folder) + "/" + target
	}
	endpoint := fmt.Sprintf("%s:/%s:/content", d.driveRoot(siteID, driveID), target)

	payload, err := d.do(ctx, "upload", http.MethodPut, endpoint, body, "application/octet-stream")
	if err != nil {
		return FileItem{}, err
	}

	var w wireItem
	if err := json.Unmarshal(payload, &w); err != nil {
		return FileItem{}, failure.Wrap(failure.KindPermanent, "upload", err, "decoding upload response")
	}
	return w.item(), nil
}

// Delete removes fileName from the drive root. Deletes are not retried.
func (d *Drive) Delete(ctx context.Context, siteID, driveID, fileName string) error {
	if strings.TrimSpace(fileName) == "" {
		return failure.New(failure.KindInvalidInput, "delete", "file name is required")
	}

	endpoint := fmt.Sprintf("%s:/%s", d.driveRoot(siteID, driveID), escapePath(strings.Trim(fileName, "/")))

	_, err := d.do(ctx, "delete", http.MethodDelete, endpoint, nil, "")
	return err
}

func (d *Drive) driveRoot(siteID, driveID string) string {
	return fmt.Sprintf("%s/sites/%s/drives/%s/root", d.baseURL, url.PathEscape(siteID), url.PathEscape(driveID))
}

func getJSON[T any](ctx context.Context, d *Drive, op, endpoint string) (T, error) {
	return retry.Execute(ctx, d.policy, func(ctx context.Context) (T, error) {
		var v T
		payload, err := d.do(ctx, op, http.MethodGet, endpoint, nil, "")
		if err != nil {
			return v, err
		}
		if err := json.Unmarshal(payload, &v); err != nil {
			return v, failure.Wrap(failure.KindPermanent, op, err, "decoding Graph response")
		}
		return v, nil
	})
}

// do performs a single request. Non-2xx statuses are classified with
// failure.ForStatus; transport errors are returned untagged.
func (d *Drive) do(ctx context.Context, op, method, endpoint string, body []byte, contentType string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, failure.Wrap(failure.KindInvalidInput, op, err, "building request")
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	res, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, res.Body)
		_ = res.Body.Close()
	}()

	payload, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading Graph response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		log.Ctx(ctx).Debug().
			Str("operation", op).
			Int("status", res.StatusCode).
			Msg("Graph API returned an error status")
		return nil, failure.ForStatus(op, res.StatusCode, "Graph API returned "+http.StatusText(res.StatusCode))
	}

	return payload, nil
}

func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
