package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docsift/docsift/internal/parser"
	"github.com/docsift/docsift/internal/storage"
)

// Client calls the docsift HTTP API.
type Client struct {
	base string
	http *http.Client
}

// NewClient builds a client for the given base URL.
func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		// Uploads of large files and /query/ask both run long.
		http: &http.Client{Timeout: 5 * time.Minute},
	}
}

// ListResponse mirrors GET /documents.
type ListResponse struct {
	Documents []*storage.Document `json:"documents"`
	Limit     int                 `json:"limit"`
	Offset    int                 `json:"offset"`
}

// AskResponse mirrors POST /query/ask.
type AskResponse struct {
	Query                 string   `json:"query"`
	Answer                string   `json:"answer"`
	RetrievedContextTexts []string `json:"retrieved_context_texts"`
}

// Upload streams one file as a multipart POST /documents request. The
// reader is consumed as the request body is sent, so wrapping it in a
// progress proxy reports real upload progress.
func (c *Client) Upload(ctx context.Context, path string, r io.Reader) (*storage.Document, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreatePart(filePartHeader(filepath.Base(path)))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/documents", pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var doc storage.Document
	if err := c.do(req, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

var partQuoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// filePartHeader builds the file part header with the media type
// matching the filename extension, so the server need not guess.
func filePartHeader(filename string) textproto.MIMEHeader {
	contentType := parser.TypeByFilename(filename)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, partQuoteEscaper.Replace(filename)))
	h.Set("Content-Type", contentType)
	return h
}

// ListDocuments fetches one page of documents.
func (c *Client) ListDocuments(ctx context.Context, limit, offset int, order string) (*ListResponse, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	if order != "" {
		q.Set("order", order)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/documents?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp ListResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetDocument fetches one document by id.
func (c *Client) GetDocument(ctx context.Context, id int64) (*storage.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/documents/%d", c.base, id), nil)
	if err != nil {
		return nil, err
	}

	var doc storage.Document
	if err := c.do(req, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DeleteDocument removes a document with its chunks and vectors.
func (c *Client) DeleteDocument(ctx context.Context, id int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/documents/%d", c.base, id), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Ask runs the full question-answering flow.
func (c *Client) Ask(ctx context.Context, question string) (*AskResponse, error) {
	body, err := json.Marshal(map[string]string{"query": question})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/query/ask", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp AskResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
