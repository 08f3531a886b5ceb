package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainParameters = "quakerun/parameters/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ParameterFingerprint computes a content hash of a parameter set.
// Equal sets (after NFC normalization) produce equal fingerprints regardless
// of key insertion order.
func ParameterFingerprint(p ParameterSet) (string, error) {
	if p == nil {
		p = ParameterSet{}
	}
	canonical, err := MarshalCanonical(p)
	if err != nil {
		return "", fmt.Errorf("ParameterFingerprint: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainParameters, canonical), nil
}
