package e2ee

import "errors"

// Failures surfaced by the key store and the envelope codec. None of them is
// fatal to a caller: they are meant to be mapped onto a degraded render state.
var (
	// ErrWrongPassphrase is returned when a sealed private key fails
	// authentication. Corruption is indistinguishable from a bad password.
	ErrWrongPassphrase = errors.New("wrong passphrase")

	// ErrNoKeyForRecipient means the envelope carries no wrapped key for the
	// requesting user, e.g. the message predates their membership.
	ErrNoKeyForRecipient = errors.New("no wrapped key for recipient")

	// ErrUnwrapFailed means the wrapped content key could not be recovered.
	ErrUnwrapFailed = errors.New("failed to unwrap content key")

	// ErrDecryptFailed means the content ciphertext did not authenticate.
	ErrDecryptFailed = errors.New("failed to decrypt content")

	// ErrMalformedEncoding is returned before any cryptographic operation when
	// a binary field is not valid base64 or has the wrong length.
	ErrMalformedEncoding = errors.New("malformed encoding")

	// ErrInvalidPublicKey is returned for unparseable or too-weak public keys.
	ErrInvalidPublicKey = errors.New("invalid public key")
)

// ErrorKind is a stable label for a crypto failure, used for render states
// and metric labels.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindWrongPassphrase   ErrorKind = "wrong_passphrase"
	KindNoKeyForRecipient ErrorKind = "no_key_for_recipient"
	KindUnwrapFailed      ErrorKind = "unwrap_failed"
	KindDecryptFailed     ErrorKind = "decrypt_failed"
	KindMalformedEncoding ErrorKind = "malformed_encoding"
	KindInvalidPublicKey  ErrorKind = "invalid_public_key"
	KindUnknown           ErrorKind = "unknown"
)

// Kind classifies err against the package sentinels.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrWrongPassphrase):
		return KindWrongPassphrase
	case errors.Is(err, ErrNoKeyForRecipient):
		return KindNoKeyForRecipient
	case errors.Is(err, ErrUnwrapFailed):
		return KindUnwrapFailed
	case errors.Is(err, ErrDecryptFailed):
		return KindDecryptFailed
	case errors.Is(err, ErrMalformedEncoding):
		return KindMalformedEncoding
	case errors.Is(err, ErrInvalidPublicKey):
		return KindInvalidPublicKey
	default:
		return KindUnknown
	}
}
