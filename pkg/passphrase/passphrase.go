// Package passphrase generates the human-typable class join codes.
package passphrase

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// Charset deliberately omits the visually ambiguous characters 0, O, 1, I
// and L so a code read from a whiteboard cannot be mistyped.
const Charset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	rawLength = 8
	separator = "-"
)

// New returns a fresh passphrase rendered as XXXX-XXXX. The code is never
// monochromatic (all eight characters identical).
func New() (string, error) {
	for {
		raw, err := randomChars(rawLength)
		if err != nil {
			return "", err
		}
		if monochromatic(raw) {
			continue
		}
		return raw[:4] + separator + raw[4:], nil
	}
}

// Normalize canonicalises user-supplied passphrase input: uppercased,
// trimmed, and re-hyphenated when the separator was omitted.
func Normalize(input string) string {
	cleaned := strings.ToUpper(strings.TrimSpace(input))
	cleaned = strings.ReplaceAll(cleaned, separator, "")
	if len(cleaned) != rawLength {
		return strings.ToUpper(strings.TrimSpace(input))
	}
	return cleaned[:4] + separator + cleaned[4:]
}

// NewPIN returns a four digit PIN for anonymous students.
func NewPIN() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("generate pin: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

func randomChars(length int) (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(Charset)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate passphrase: %w", err)
		}
		sb.WriteByte(Charset[n.Int64()])
	}
	return sb.String(), nil
}

func monochromatic(raw string) bool {
	for i := 1; i < len(raw); i++ {
		if raw[i] != raw[0] {
			return false
		}
	}
	return true
}
