package gemini

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

// UploadFile uploads a local file to the content-push endpoint and returns an
// attachment reference for the next generate call. Missing files fail with
// the underlying os error before any network activity.
func (c *Client) UploadFile(ctx context.Context, path string) (Attachment, error) {
	if st, err := os.Stat(path); err != nil {
		return Attachment{}, err
	} else if st.IsDir() {
		return Attachment{}, &ValueError{Msg: path + " is not a valid file"}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, err
	}
	return c.UploadBytes(ctx, data, filepath.Base(path))
}

// UploadBytes uploads raw bytes as a multipart form. The response body is the
// opaque upload identifier.
func (c *Client) UploadBytes(ctx context.Context, data []byte, name string) (Attachment, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return Attachment{}, err
	}
	if _, err = fw.Write(data); err != nil {
		return Attachment{}, err
	}
	if err = mw.Close(); err != nil {
		return Attachment{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.Upload, &buf)
	if err != nil {
		return Attachment{}, err
	}
	applyHeaders(req, HeadersUpload)
	applyHeaders(req, c.profile)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "*/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Attachment{}, &TransportError{Msg: "upload request failed", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Attachment{}, &TransportError{Msg: "upload failed with status " + resp.Status}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Attachment{}, &TransportError{Msg: "failed to read upload response", Err: err}
	}
	return Attachment{ID: string(body), Name: name}, nil
}
