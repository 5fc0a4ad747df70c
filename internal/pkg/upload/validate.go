package upload

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"
)

var (
	ErrUnsupportedType = errors.New("only JPG, JPEG, PNG, GIF, BMP and TIFF images are supported")
	ErrScriptable      = errors.New("HTML, SVG and XML content is not allowed")
)

var allowedExt = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

var allowedMime = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/bmp":  true,
	"image/tiff": true,
}

// SniffLen is the number of leading bytes ValidateImageBySniff looks at.
const SniffLen = 512

// ValidateImageBySniff checks the filename extension and the first bytes of
// the upload against the image types the avatar pipeline can decode. It
// returns the detected mime type.
func ValidateImageBySniff(filename string, head []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExt[ext] {
		return "", ErrUnsupportedType
	}

	detected := http.DetectContentType(head)

	// Block scriptable types regardless of extension
	if strings.HasPrefix(detected, "text/html") || strings.HasPrefix(detected, "application/xhtml") ||
		strings.HasPrefix(detected, "text/xml") || strings.HasPrefix(detected, "application/xml") || detected == "image/svg+xml" {
		return "", ErrScriptable
	}

	// TIFF is not sniffed by net/http
	if detected == "application/octet-stream" && (ext == ".tif" || ext == ".tiff") {
		return "image/tiff", nil
	}
	if allowedMime[detected] {
		return detected, nil
	}
	return "", ErrUnsupportedType
}
