package media

import (
	"errors"
	"fmt"

	"github.com/h2non/filetype"
)

// ErrUnsupportedImage is returned when uploaded bytes are not a recognizable image.
var ErrUnsupportedImage = errors.New("media: unsupported image")

// DetectImageMIME sniffs the MIME type of an image from its magic bytes.
func DetectImageMIME(data []byte) (string, error) {
	kind, err := filetype.Match(data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnsupportedImage, err)
	}
	if kind == filetype.Unknown || kind.MIME.Type != "image" {
		return "", ErrUnsupportedImage
	}
	return kind.MIME.Value, nil
}

// ResolveImageMIME prefers the declared type when it names an image and
// falls back to sniffing the bytes otherwise.
func ResolveImageMIME(declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if sniffed, err := DetectImageMIME(data); err == nil {
		return sniffed
	}
	return declared
}
