package api

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strings"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// multipartBody builds a multipart/form-data payload and keeps a textual
// rendering of every part for the request summary. Binary file content never
// reaches the summary.
type multipartBody struct {
	boundary string
	buf      bytes.Buffer
	writer   *multipart.Writer
	parts    []string
}

func newMultipartBody(boundary string) (*multipartBody, error) {
	b := &multipartBody{boundary: boundary}
	b.writer = multipart.NewWriter(&b.buf)
	if err := b.writer.SetBoundary(boundary); err != nil {
		return nil, fmt.Errorf("invalid boundary %q: %w", boundary, err)
	}
	return b, nil
}

// addText appends a plain form field.
func (b *multipartBody) addText(name, value string) error {
	disposition := fmt.Sprintf(`form-data; name="%s"`, quoteEscaper.Replace(name))

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", disposition)
	w, err := b.writer.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create part %s: %w", name, err)
	}
	if _, err := w.Write([]byte(value)); err != nil {
		return fmt.Errorf("failed to write part %s: %w", name, err)
	}

	b.parts = append(b.parts, strings.Join([]string{
		"--" + b.boundary,
		"Content-Disposition: " + disposition,
		"",
		value,
	}, "\n"))
	return nil
}

// addFile appends a file part. Only its size is recorded in the summary.
func (b *multipartBody) addFile(name, filename, mimeType string, data []byte) error {
	disposition := fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(name), quoteEscaper.Replace(filename))

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", disposition)
	h.Set("Content-Type", mimeType)
	w, err := b.writer.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create part %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write part %s: %w", name, err)
	}

	b.parts = append(b.parts, strings.Join([]string{
		"--" + b.boundary,
		"Content-Disposition: " + disposition,
		"Content-Type: " + mimeType,
		"",
		fmt.Sprintf("<%d bytes, image data omitted>", len(data)),
	}, "\n"))
	return nil
}

// finish writes the closing delimiter and returns the encoded payload.
func (b *multipartBody) finish() ([]byte, error) {
	if err := b.writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}
	return b.buf.Bytes(), nil
}

func (b *multipartBody) contentType() string {
	return b.writer.FormDataContentType()
}

// requestSummary renders method, URL, sorted headers and the body parts.
func (b *multipartBody) requestSummary(method, url string, headers http.Header) string {
	body := strings.Join(append(append([]string{}, b.parts...), "--"+b.boundary+"--"), "\n")

	return fmt.Sprintf("%s %s\nHeaders:\n%s\n\nBody:\n%s",
		method, url, formatHeaders(headers), body)
}

// formatHeaders renders "Name: value" lines sorted by header name.
func formatHeaders(headers http.Header) string {
	if len(headers) == 0 {
		return "(none)"
	}
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("%s: %s", name, strings.Join(headers[name], ", ")))
	}
	return strings.Join(lines, "\n")
}
