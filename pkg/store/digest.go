// Package store implements the submission.Store and submission.EventSink
// contracts: an in-memory reference store, SQL (Postgres and SQLite), Redis
// and Badger stores, a hash-chained audit log, and archivers for exported
// audit bundles.
//
// Resume tokens are bearer credentials, so durable stores index submissions
// by a keyed digest of the token and never by the token itself.
package store

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

var tokenKey = []byte("intake/resume-token/v1")

// TokenDigest returns the hex BLAKE2b-256 digest used to index a token.
func TokenDigest(token string) string {
	h, err := blake2b.New256(tokenKey)
	if err != nil {
		// Only reachable with a key longer than 64 bytes.
		panic(err)
	}
	h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil))
}
