package media

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxUploadRequestBytes bounds the whole multipart request. It sits above
// MaxAvatarBytes so oversized files are reported as ErrTooLarge rather than
// as a malformed form.
const maxUploadRequestBytes = 2*MaxAvatarBytes + 1<<20

var ErrInvalidUpload = errors.New("invalid multipart form")

type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ReadUpload extracts a single file field from a multipart request. At most
// MaxAvatarBytes+1 bytes of the file are kept.
func ReadUpload(w http.ResponseWriter, r *http.Request, field string) (Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadRequestBytes)
	if err := r.ParseMultipartForm(MaxAvatarBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return Upload{}, ErrTooLarge
		}
		return Upload{}, ErrInvalidUpload
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		return Upload{}, fmt.Errorf("%w: %s is required", ErrInvalidUpload, field)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxAvatarBytes+1))
	if err != nil {
		return Upload{}, fmt.Errorf("%w: read file: %v", ErrInvalidUpload, err)
	}
	if len(data) == 0 {
		return Upload{}, ErrEmpty
	}

	contentType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	return Upload{
		Filename:    header.Filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}
