package media

import (
	"errors"
	"strings"
)

const MaxAvatarBytes = 5 << 20

var (
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrTooLarge        = errors.New("image too large")
	ErrEmpty           = errors.New("image is empty")
)

var avatarTypes = map[string]string{
	"image/jpeg": "image/jpeg",
	"image/jpg":  "image/jpeg",
	"image/png":  "image/png",
}

// NormalizeContentType strips parameters and maps aliases to their canonical
// MIME type. Unknown types are returned lowercased.
func NormalizeContentType(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	if canonical, ok := avatarTypes[ct]; ok {
		return canonical
	}
	return ct
}

func ValidateAvatar(contentType string, size int) error {
	if _, ok := avatarTypes[NormalizeContentType(contentType)]; !ok {
		return ErrUnsupportedType
	}
	if size == 0 {
		return ErrEmpty
	}
	if size > MaxAvatarBytes {
		return ErrTooLarge
	}
	return nil
}

func extensionFor(contentType string) string {
	if NormalizeContentType(contentType) == "image/png" {
		return ".png"
	}
	return ".jpg"
}
