package row

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainStoreKey = "tabula/store-key/v1"
	DomainContent  = "tabula/content/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte keeps domain and data from running into each other.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash computes a domain-separated hash over the canonical JSON of v.
func Hash(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// ContentHash hashes the payload form of a table. Two tables with equal
// fields in the same order hash equally regardless of identity or AppData.
func ContentHash(t *Table) string {
	h, err := Hash(DomainContent, t.Records())
	if err != nil {
		// Records only hold canonical-safe values.
		panic(err)
	}
	return h
}
