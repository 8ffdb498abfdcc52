package retry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
)

// Request describes one logical HTTP call. The body is rebuilt for every
// attempt, so files are re-read from disk on each retry.
//
// With Files set the body is multipart/form-data carrying Files and Form.
// With only Form set it is application/x-www-form-urlencoded. Otherwise Body
// is sent as-is.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Form   map[string]string
	Files  []File
	Body   []byte
}

// File is a multipart file part read from Path.
type File struct {
	Field string
	Name  string // defaults to the base name of Path
	Path  string
}

func (r Request) build(ctx context.Context, method string) (*http.Request, error) {
	var (
		body        io.Reader
		contentType string
	)
	switch {
	case len(r.Files) > 0:
		buf, ct, err := encodeMultipart(r.Form, r.Files)
		if err != nil {
			return nil, err
		}
		body, contentType = buf, ct
	case len(r.Form) > 0:
		vals := url.Values{}
		for k, v := range r.Form {
			vals.Set(k, v)
		}
		body, contentType = bytes.NewBufferString(vals.Encode()), "application/x-www-form-urlencoded"
	case r.Body != nil:
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

func encodeMultipart(form map[string]string, files []File) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	for _, f := range files {
		if err := writeFilePart(w, f); err != nil {
			return nil, "", fmt.Errorf("file %s: %w", f.Field, err)
		}
	}

	// fields sorted for a stable body
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.WriteField(k, form[k]); err != nil {
			return nil, "", fmt.Errorf("field %s: %w", k, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

func writeFilePart(w *multipart.Writer, f File) error {
	src, err := os.Open(f.Path)
	if err != nil {
		return err
	}
	defer src.Close()

	name := f.Name
	if name == "" {
		name = filepath.Base(f.Path)
	}
	part, err := w.CreateFormFile(f.Field, name)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, src)
	return err
}
