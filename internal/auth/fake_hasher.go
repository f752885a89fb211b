package auth

import "strings"

// FakeInsecureHasher stores passwords as "$fake$<plaintext>".
// Tests and --test mode only.
type FakeInsecureHasher struct{}

func (FakeInsecureHasher) HashPassword(password string) (string, error) {
	return "$fake$" + password, nil
}

func (FakeInsecureHasher) VerifyPassword(password, encodedHash string) bool {
	if !strings.HasPrefix(encodedHash, "$fake$") {
		return false
	}
	return strings.TrimPrefix(encodedHash, "$fake$") == password
}
