package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// File describes the file part of a multipart upload.
type File struct {
	Name        string // filename reported to the core
	ContentType string // e.g. "image/jpeg"
	Content     io.Reader
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// UploadFile sends file as a multipart form under the "file" field, plus any
// additional scalar fields. Authentication and the refresh-and-retry protocol
// are identical to the JSON operations.
func (p *Pipeline) UploadFile(ctx context.Context, path string, file File, fields map[string]string) *Envelope {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	// Deterministic field order keeps request signatures stable.
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.WriteField(k, fields[k]); err != nil {
			return fail(fmt.Sprintf("encode field %s: %v", k, err))
		}
	}

	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(file.Name)))
	if file.ContentType != "" {
		h.Set("Content-Type", file.ContentType)
	}
	part, err := w.CreatePart(h)
	if err != nil {
		return fail(fmt.Sprintf("create file part: %v", err))
	}
	if _, err := io.Copy(part, file.Content); err != nil {
		return fail(fmt.Sprintf("read file: %v", err))
	}
	if err := w.Close(); err != nil {
		return fail(fmt.Sprintf("finalize form: %v", err))
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	header.Set("Content-Type", w.FormDataContentType())
	header.Set("X-Request-ID", uuid.NewString())

	return p.run(ctx, attempt{
		method: http.MethodPost,
		url:    p.baseURL + path,
		header: header,
		body:   buf.Bytes(),
	})
}
