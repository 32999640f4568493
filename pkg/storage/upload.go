package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrUnsupportedType is returned for files outside the evidence allowlist or whose content
// does not match their extension.
var ErrUnsupportedType = errors.New("unsupported evidence file type")

const sniffLen = 3072

// evidenceTypes maps an allowed extension to the content types it may carry.
var evidenceTypes = map[string][]string{
	".jpg":  {"image/jpeg"},
	".jpeg": {"image/jpeg"},
	".png":  {"image/png"},
	".mp3":  {"audio/mpeg"},
	".wav":  {"audio/wav"},
	".mp4":  {"video/mp4", "audio/mp4"},
	".mov":  {"video/quicktime"},
	".pdf":  {"application/pdf"},
}

// AllowedExtension reports whether name carries an allowed evidence extension.
func AllowedExtension(name string) bool {
	_, ok := evidenceTypes[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Sniff detects the content type of r from its leading bytes and checks it against the
// extension of name. The returned reader replays the sniffed bytes.
func Sniff(name string, r io.Reader) (string, io.Reader, error) {
	allowed, ok := evidenceTypes[strings.ToLower(filepath.Ext(name))]
	if !ok {
		return "", nil, ErrUnsupportedType
	}
	br := bufio.NewReaderSize(r, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", nil, fmt.Errorf("read evidence header: %w", err)
	}
	detected := mimetype.Detect(head)
	for _, ct := range allowed {
		if detected.Is(ct) {
			return ct, br, nil
		}
	}
	return "", nil, ErrUnsupportedType
}

// SanitizeFilename reduces name to its base with only letters, digits, dot, dash and
// underscore kept.
func SanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		return "file"
	}
	return out
}

// ContentTypeFor returns the content type served for a stored evidence file.
func ContentTypeFor(name string) string {
	if allowed, ok := evidenceTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return allowed[0]
	}
	return "application/octet-stream"
}
