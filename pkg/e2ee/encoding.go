package e2ee

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	// KeySize is the AES-256 content key size in bytes.
	KeySize = 32
	// IVSize is the AES-GCM nonce size in bytes.
	IVSize = 12
)

func encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// decode strictly decodes a base64 field. Line breaks, missing padding and
// non-canonical trailing bits are all rejected.
func decode(field, value string) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrMalformedEncoding, field)
	}
	if strings.ContainsAny(value, "\r\n") {
		return nil, fmt.Errorf("%w: %s contains line breaks", ErrMalformedEncoding, field)
	}
	b, err := base64.StdEncoding.Strict().DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEncoding, field, err)
	}
	return b, nil
}

func decodeIV(value string) ([]byte, error) {
	iv, err := decode("iv", value)
	if err != nil {
		return nil, err
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", ErrMalformedEncoding, IVSize, len(iv))
	}
	return iv, nil
}
