package submission

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const tokenBytes = 32

// NewToken mints an opaque resume token from crypto/rand. Tokens carry no
// information about the submission they protect.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("mint resume token: %w", err)
	}
	return "rt_" + base64.RawURLEncoding.EncodeToString(b), nil
}
