package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// FileRef is a stable content-addressed reference returned for every
// uploaded file.
type FileRef struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentHash string `json:"content_hash"`
	URL         string `json:"url"`
}

// File pairs a name with its content for batch uploads.
type File struct {
	Name    string
	Content io.Reader
}

// Uploader pushes files to a content-addressable store.
type Uploader interface {
	Upload(ctx context.Context, name string, content io.Reader) (FileRef, error)

	// UploadAll uploads sequentially and stops at the first failure,
	// returning the refs uploaded so far together with the error.
	// Callers must treat any error as "do not advance".
	UploadAll(ctx context.Context, files []File) ([]FileRef, error)
}

// GatewayClient talks to an IPFS-compatible HTTP API. Content is added
// via /api/v0/add and retrieved through the public gateway by hash.
type GatewayClient struct {
	apiURL     string
	gatewayURL string
	httpClient *http.Client
}

func NewGatewayClient(apiURL, gatewayURL string) *GatewayClient {
	return &GatewayClient{
		apiURL:     strings.TrimRight(apiURL, "/"),
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

func (g *GatewayClient) Upload(ctx context.Context, name string, content io.Reader) (FileRef, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return FileRef{}, fmt.Errorf("failed to build upload request: %w", err)
	}
	size, err := io.Copy(part, content)
	if err != nil {
		return FileRef{}, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return FileRef{}, fmt.Errorf("failed to finalize upload request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL+"/api/v0/add", &body)
	if err != nil {
		return FileRef{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return FileRef{}, fmt.Errorf("upload of %s failed: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return FileRef{}, fmt.Errorf("upload of %s failed: gateway returned %d: %s", name, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var added addResponse
	if err := json.NewDecoder(resp.Body).Decode(&added); err != nil {
		return FileRef{}, fmt.Errorf("upload of %s failed: bad gateway response: %w", name, err)
	}
	if added.Hash == "" {
		return FileRef{}, fmt.Errorf("upload of %s failed: gateway returned no content hash", name)
	}

	if reported, err := strconv.ParseInt(added.Size, 10, 64); err == nil && reported > 0 {
		size = reported
	}

	return FileRef{
		Name:        name,
		Size:        size,
		ContentHash: added.Hash,
		URL:         g.gatewayURL + "/ipfs/" + added.Hash,
	}, nil
}

func (g *GatewayClient) UploadAll(ctx context.Context, files []File) ([]FileRef, error) {
	refs := make([]FileRef, 0, len(files))
	for _, f := range files {
		ref, err := g.Upload(ctx, f.Name, f.Content)
		if err != nil {
			return refs, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
