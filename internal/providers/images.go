package providers

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
)

// Attachment is an image read from disk for upload
type Attachment struct {
	Path     string
	MimeType string
	Data     []byte
}

// Base64 returns the raw standard encoding of the image bytes
func (a Attachment) Base64() string {
	return base64.StdEncoding.EncodeToString(a.Data)
}

// DataURI returns the image as a data: URI
func (a Attachment) DataURI() string {
	return fmt.Sprintf("data:%s;base64,%s", a.MimeType, a.Base64())
}

// ReadAttachments loads every readable image in paths. Unreadable files are
// skipped with a warning; the conversation goes on without them.
func ReadAttachments(paths []string) []Attachment {
	out := make([]Attachment, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			slog.Warn("Skipping unreadable image", "path", p, "err", err)
			continue
		}
		mimeType := mime.TypeByExtension(filepath.Ext(p))
		if mimeType == "" {
			mimeType = http.DetectContentType(data)
		}
		out = append(out, Attachment{Path: p, MimeType: mimeType, Data: data})
	}
	return out
}
