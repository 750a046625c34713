package leaderboard

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"
)

// UserFieldPrefix marks the user-defined submission fields
const UserFieldPrefix = "usr_"

// HashParam carries the digest the client computed
const HashParam = "cc_hash"

// checksumField reports whether a parameter participates in the checksum:
// every user-prefixed field plus the three protocol fields.
func checksumField(name string) bool {
	if strings.HasPrefix(name, UserFieldPrefix) {
		return true
	}
	return name == "cc_category" || name == "cc_score" || name == "cc_playername"
}

// Digest computes the submission checksum: MD5 over the UTF-8 value bytes of
// the included fields taken in ascending lexicographic order of field name,
// followed by the game's secret key. Clients compute the same digest, so the
// ordering and encoding here are part of the wire contract.
func Digest(params map[string]string, secretKey string) string {
	names := make([]string, 0, len(params))
	for name := range params {
		if checksumField(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	h := md5.New()
	for _, name := range names {
		h.Write([]byte(params[name]))
	}
	h.Write([]byte(secretKey))
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateChecksum verifies cc_hash against the expected digest. It must run
// before any mutation; a mismatch is the sole anti-spoofing rejection.
func ValidateChecksum(params map[string]string, secretKey string) error {
	submitted, ok := params[HashParam]
	if !ok {
		return &AuthenticationError{Message: "missing hash value"}
	}
	expected := Digest(params, secretKey)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(submitted)) != 1 {
		return &AuthenticationError{Message: "invalid hash value"}
	}
	return nil
}
