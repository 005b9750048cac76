package storage

import (
	"errors"

	"github.com/gabriel-vasile/mimetype"
)

var ErrUnsupportedType = errors.New("unsupported file type")

var ErrEmptyFile = errors.New("file is empty")

type Kind struct {
	MIME      string
	Extension string
}

// allowed uploads; anything else is rejected regardless of the client's
// Content-Type header
var allowed = []string{"image/jpeg", "image/png", "application/pdf"}

// Detect identifies data from its magic bytes.
func Detect(data []byte) (Kind, error) {
	if len(data) == 0 {
		return Kind{}, ErrEmptyFile
	}

	mt := mimetype.Detect(data)
	for _, a := range allowed {
		if mt.Is(a) {
			return Kind{MIME: a, Extension: mt.Extension()}, nil
		}
	}

	return Kind{}, ErrUnsupportedType
}
