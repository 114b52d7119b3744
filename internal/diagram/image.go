package diagram

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"net/http"
	"os"
	"strings"

	// Decoders registered for image.DecodeConfig.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// ErrEmptyImage is returned when an image has no bytes.
var ErrEmptyImage = errors.New("image is empty")

// Image is the diagram under interpretation.
type Image struct {
	Path      string
	Data      []byte
	MediaType string
	Width     int
	Height    int
}

// LoadImage reads an image from disk.
func LoadImage(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	img, err := NewImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	img.Path = path
	return img, nil
}

// NewImage sniffs the media type and pixel dimensions of data. Formats the
// standard decoders cannot read (webp, svg) are accepted with zero
// dimensions as long as they sniff as an image.
func NewImage(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	mediaType := http.DetectContentType(data)
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return nil, fmt.Errorf("unsupported content type %q", mediaType)
	}
	img := &Image{Data: data, MediaType: mediaType}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		img.Width, img.Height = cfg.Width, cfg.Height
	}
	return img, nil
}

// Digest returns the hex SHA-256 of the image bytes.
func (i *Image) Digest() string {
	sum := sha256.Sum256(i.Data)
	return hex.EncodeToString(sum[:])
}

// Name returns the image path, or a digest prefix for in-memory images.
func (i *Image) Name() string {
	if i.Path != "" {
		return i.Path
	}
	return "sha256:" + i.Digest()[:12]
}
