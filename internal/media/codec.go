// Package media normalizes base64 media payloads and builds the data URLs
// providers accept for inline uploads.
package media

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Prefixes of base64-encoded image files. A decoded payload that starts with
// one of these is itself base64 text.
var imageHeaders = []string{
	"iVBORw0KGgo", // PNG
	"/9j/",        // JPEG
	"R0lGOD",      // GIF
	"UklGR",       // WebP
	"Qk",          // BMP
	"SUkq",        // TIFF (little endian)
	"TU0A",        // TIFF (big endian)
	"/0//",        // JPEG2000
	"AAABAA",      // ICO
	"data:image/",
}

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)

var mimeTypes = map[string]struct {
	byExt    map[string]string
	fallback string
}{
	"image": {
		byExt: map[string]string{
			".png":  "image/png",
			".jpg":  "image/jpeg",
			".jpeg": "image/jpeg",
			".gif":  "image/gif",
			".webp": "image/webp",
		},
		fallback: "image/jpeg",
	},
	"video": {
		byExt: map[string]string{
			".mp4": "video/mp4",
			".avi": "video/avi",
			".mov": "video/quicktime",
		},
		fallback: "video/mp4",
	},
	"audio": {
		byExt: map[string]string{
			".mp3": "audio/mpeg",
			".wav": "audio/wav",
			".ogg": "audio/ogg",
		},
		fallback: "audio/mpeg",
	},
	"document": {
		byExt: map[string]string{
			".pdf":  "application/pdf",
			".doc":  "application/msword",
			".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			".xls":  "application/vnd.ms-excel",
			".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		},
		fallback: "application/octet-stream",
	},
}

const defaultMimeType = "application/octet-stream"

// clean drops the whitespace that line-wrapped base64 usually carries.
func clean(s string) string {
	return strings.NewReplacer("\n", "", "\r", "", " ", "").Replace(s)
}

// LooksLikeBase64 is a shape check: base64 alphabet, padded length and long
// enough not to be an ordinary word.
func LooksLikeBase64(s string) bool {
	return len(s) > 20 && len(s)%4 == 0 && base64Pattern.MatchString(s)
}

// FixDoubleEncoding undoes one accidental extra layer of base64. Input that
// is not double-encoded comes back cleaned but otherwise unchanged.
func FixDoubleEncoding(s string) string {
	cleaned := clean(s)

	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil || !utf8.Valid(decoded) {
		return cleaned
	}
	inner := string(decoded)

	for _, header := range imageHeaders {
		if strings.HasPrefix(inner, header) {
			if _, err := base64.StdEncoding.DecodeString(inner); err == nil {
				return inner
			}
			break
		}
	}

	if LooksLikeBase64(inner) {
		if _, err := base64.StdEncoding.DecodeString(inner); err == nil {
			return inner
		}
	}

	return cleaned
}

// IsDoubleEncoded reports whether FixDoubleEncoding would strip a layer.
func IsDoubleEncoded(s string) bool {
	return FixDoubleEncoding(s) != clean(s)
}

// NormalizePayload returns single-layer base64 for either raw file bytes or
// bytes that already hold base64 text.
func NormalizePayload(data []byte) string {
	if utf8.Valid(data) {
		text := clean(string(data))
		if _, err := base64.StdEncoding.DecodeString(text); err == nil && text != "" {
			return FixDoubleEncoding(text)
		}
	}
	return base64.StdEncoding.EncodeToString(data)
}

// MimeType resolves the mime type from the category and the filename
// extension, falling back to the category default.
func MimeType(category, filename string) string {
	entry, ok := mimeTypes[strings.ToLower(category)]
	if !ok {
		return defaultMimeType
	}
	name := strings.ToLower(filename)
	for ext, mime := range entry.byExt {
		if strings.HasSuffix(name, ext) {
			return mime
		}
	}
	return entry.fallback
}

// DataURL builds data:<mime>;name=<filename>;base64,<payload>.
func DataURL(mime, filename, payload string) string {
	return fmt.Sprintf("data:%s;name=%s;base64,%s", mime, filename, payload)
}

// MessageTypeFromMime maps a content type onto a message type.
func MessageTypeFromMime(mime string) string {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return "image"
	case strings.HasPrefix(mime, "video/"):
		return "video"
	case strings.HasPrefix(mime, "audio/"):
		return "audio"
	}
	return "document"
}

// FileHash returns the hex SHA-256 of the decoded payload.
func FileHash(payload string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(clean(payload))
	if err != nil {
		return "", fmt.Errorf("failed to decode media payload: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
