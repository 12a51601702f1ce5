package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Checksum is a hex SHA-256 digest.
type Checksum string

// Domain prefixes keep the three checksum families apart. The version
// suffix leaves room for an algorithm change.
const (
	DomainStaged = "coresync/staged/v1"
	DomainCore   = "coresync/core/v1"
	DomainSystem = "coresync/system/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte keeps the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) Checksum {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return Checksum(hex.EncodeToString(h.Sum(nil)))
}

// StagedChecksum is the content checksum of a raw staged payload. It is
// taken over the payload bytes as received.
func StagedChecksum(data string) Checksum {
	return hashWithDomain(DomainStaged, []byte(data))
}

// CoreChecksum digests the checksum subset of a core entity.
func CoreChecksum(subset IRObject) (Checksum, error) {
	return subsetChecksum(DomainCore, subset)
}

// SystemChecksum digests the checksum subset of a system entity.
func SystemChecksum(subset IRObject) (Checksum, error) {
	return subsetChecksum(DomainSystem, subset)
}

func subsetChecksum(domain string, subset IRObject) (Checksum, error) {
	if subset == nil {
		return "", fmt.Errorf("checksum subset is nil")
	}
	canonical, err := MarshalCanonical(subset)
	if err != nil {
		return "", fmt.Errorf("checksum subset: %w", err)
	}
	return hashWithDomain(domain, canonical), nil
}

// MustCoreChecksum is like CoreChecksum but panics on error.
// Use only in tests or when the subset is known to be valid.
func MustCoreChecksum(subset IRObject) Checksum {
	c, err := CoreChecksum(subset)
	if err != nil {
		panic(err)
	}
	return c
}

// MustSystemChecksum is like SystemChecksum but panics on error.
func MustSystemChecksum(subset IRObject) Checksum {
	c, err := SystemChecksum(subset)
	if err != nil {
		panic(err)
	}
	return c
}
