package pipeline

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrNoExtension     = errors.New("could not determine the image type")
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrMalformedKey    = errors.New("malformed object key")
)

var supportedTypes = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
}

// DecodeKey undoes the form encoding event sources apply to object keys:
// '+' stands for a space and non-ASCII bytes arrive as %XX escapes.
func DecodeKey(raw string) (string, error) {
	key, err := url.QueryUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w %q: %w", ErrMalformedKey, raw, err)
	}
	return key, nil
}

// ImageType returns the lower-cased suffix after the last dot, or an error
// wrapping ErrNoExtension / ErrUnsupportedType. Only the name is inspected.
func ImageType(key string) (string, error) {
	i := strings.LastIndexByte(key, '.')
	if i < 0 {
		return "", ErrNoExtension
	}

	ext := strings.ToLower(key[i+1:])
	if _, ok := supportedTypes[ext]; !ok {
		return ext, fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
	return ext, nil
}

// IsSkip reports whether err is an expected input rejection rather than a
// failure.
func IsSkip(err error) bool {
	return errors.Is(err, ErrNoExtension) || errors.Is(err, ErrUnsupportedType)
}
