package e2ee

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// SafetyNumberDigits is the number of decimal digits in a safety number.
	SafetyNumberDigits = 60
	// SafetyNumberGroup is the size of each space-separated display block.
	SafetyNumberGroup = 5
)

// ComputeFingerprint derives the safety number for two identities. The pair
// with the lexicographically smaller id goes first, so the result does not
// depend on argument order.
//
// The SHA-256 digest of "id1:key1:id2:key2" is rendered as hex and every
// letter a-f is replaced by its value mod 10. The first 60 digits are
// grouped in blocks of 5.
func ComputeFingerprint(userIDA, publicKeyA, userIDB, publicKeyB string) string {
	id1, key1, id2, key2 := userIDA, publicKeyA, userIDB, publicKeyB
	if userIDB < userIDA {
		id1, key1, id2, key2 = userIDB, publicKeyB, userIDA, publicKeyA
	}

	sum := sha256.Sum256([]byte(id1 + ":" + key1 + ":" + id2 + ":" + key2))
	hexDigest := hex.EncodeToString(sum[:])

	digits := make([]byte, 0, SafetyNumberDigits)
	for i := 0; i < len(hexDigest) && len(digits) < SafetyNumberDigits; i++ {
		c := hexDigest[i]
		if c >= 'a' && c <= 'f' {
			c = '0' + (c-'a'+10)%10
		}
		digits = append(digits, c)
	}

	var b strings.Builder
	for i := 0; i < len(digits); i += SafetyNumberGroup {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.Write(digits[i : i+SafetyNumberGroup])
	}
	return b.String()
}
