package content

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
)

const (
	DefaultMIME = "image/jpeg"

	// Enough base64 characters to cover the magic numbers filetype looks at.
	sniffPrefix = 384
)

var (
	ErrNotImage      = errors.New("file is not an image")
	ErrImageTooLarge = errors.New("image is too large")
)

// Image is a ready-to-send image payload.
type Image struct {
	FileName string
	FileSize int64
	MimeType string
	DataURL  string
}

// DataURL renders base64 data as a data URL.
func DataURL(mimeType, data string) string {
	return "data:" + mimeType + ";base64," + data
}

// ParseDataURL splits a base64 data URL into its mime type and payload.
func ParseDataURL(s string) (mimeType, data string, ok bool) {
	rest, found := strings.CutPrefix(s, "data:")
	if !found {
		return "", "", false
	}
	header, data, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mimeType, found = strings.CutSuffix(header, ";base64")
	if !found {
		return "", "", false
	}
	return mimeType, data, true
}

// DecodedSize returns how many bytes the base64 payload of an image decodes to.
// A payload without a data URL header is measured whole.
func DecodedSize(payload string) int64 {
	if _, data, ok := ParseDataURL(payload); ok {
		payload = data
	}
	trimmed := strings.TrimRight(payload, "=")
	return int64(base64.StdEncoding.DecodedLen(len(payload)) - (len(payload) - len(trimmed)))
}

// DetectMIME resolves the mime type of an image payload.
// An explicit declared type always wins, then the data URL header, then magic numbers.
func DetectMIME(payload, declared string) string {
	if declared != "" {
		return declared
	}
	if mimeType, _, ok := ParseDataURL(payload); ok && mimeType != "" {
		return mimeType
	}

	head := payload
	if len(head) > sniffPrefix {
		head = head[:sniffPrefix]
	}
	// Cut to a whole number of quanta so a partial prefix still decodes.
	head = head[:len(head)-len(head)%4]
	raw, err := base64.StdEncoding.DecodeString(head)
	if err != nil {
		return DefaultMIME
	}
	kind, err := filetype.Match(raw)
	if err != nil || kind == filetype.Unknown {
		return DefaultMIME
	}
	return kind.MIME.Value
}

// LoadImage reads an image file and encodes it as a data URL.
func LoadImage(path string, maxSize int64) (Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Image{}, fmt.Errorf("failed to stat image: %w", err)
	}
	if maxSize > 0 && info.Size() > maxSize {
		return Image{}, fmt.Errorf("%w: %d bytes (max %d)", ErrImageTooLarge, info.Size(), maxSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("failed to read image: %w", err)
	}
	if !filetype.IsImage(data) {
		return Image{}, ErrNotImage
	}
	kind, err := filetype.Match(data)
	if err != nil {
		return Image{}, fmt.Errorf("failed to detect image type: %w", err)
	}

	return Image{
		FileName: filepath.Base(path),
		FileSize: int64(len(data)),
		MimeType: kind.MIME.Value,
		DataURL:  DataURL(kind.MIME.Value, base64.StdEncoding.EncodeToString(data)),
	}, nil
}
