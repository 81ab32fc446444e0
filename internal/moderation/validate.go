package moderation

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// imagePrefix is the required scheme for image payloads: a data URI whose
// media type is some image format.
const imagePrefix = "data:image/"

// Image validation failures. Callers branch on these to word their user
// notices; both abort the upload.
var (
	ErrUnsupportedImage = errors.New("moderation: unsupported image payload")
	ErrImageTooLarge    = errors.New("moderation: image exceeds size limit")
)

// CheckLength verifies that text does not exceed max characters. The count is
// in runes, not bytes, so multi-byte scripts are not penalized.
func CheckLength(text string, max int) error {
	if utf8.RuneCountInString(text) > max {
		return fmt.Errorf("moderation: text exceeds %d character limit", max)
	}
	return nil
}

// ValidateImage checks that payload is a well-formed image data URI whose
// decoded byte length does not exceed maxBytes. It returns the decoded size
// on success.
func ValidateImage(payload string, maxBytes int) (int, error) {
	if !strings.HasPrefix(payload, imagePrefix) {
		return 0, ErrUnsupportedImage
	}

	comma := strings.IndexByte(payload, ',')
	if comma < 0 {
		return 0, ErrUnsupportedImage
	}

	decoded, err := base64.StdEncoding.DecodeString(payload[comma+1:])
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if len(decoded) > maxBytes {
		return len(decoded), fmt.Errorf("%w: %d bytes over %d", ErrImageTooLarge, len(decoded), maxBytes)
	}
	return len(decoded), nil
}
