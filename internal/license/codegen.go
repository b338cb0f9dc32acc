package license

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Activation code format: SMR-XXXX-XXXX-XXXX where each group is 4 uppercase
// hex characters (2 random bytes). 48 bits of entropy keeps the per-draw
// collision probability negligible; the store's unique index catches the rest.
const (
	CodePrefix = "SMR-"
	CodeLength = 18 // SMR-XXXX-XXXX-XXXX
)

var codePattern = regexp.MustCompile(`^SMR-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}$`)

// GenerateCode produces a fresh activation code from crypto/rand
func GenerateCode() (string, error) {
	groups := make([]string, 3)
	for i := range groups {
		b := make([]byte, 2)
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		groups[i] = strings.ToUpper(hex.EncodeToString(b))
	}
	return CodePrefix + strings.Join(groups, "-"), nil
}

// ValidateCodeFormat checks an activation code against the SMR code shape
func ValidateCodeFormat(code string) error {
	if len(code) != CodeLength {
		return fmt.Errorf("activation code must be %d characters, got %d", CodeLength, len(code))
	}
	if !codePattern.MatchString(code) {
		return fmt.Errorf("activation code does not match format SMR-XXXX-XXXX-XXXX")
	}
	return nil
}

// NormalizeCode uppercases and trims an activation code as typed by a user
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
