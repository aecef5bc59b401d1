// Package cryptox holds the hashing primitives of the lookup protocol.
package cryptox

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/dmitrijs2005/fedid/internal/common"
)

const (
	MediumEmail  = "email"
	MediumMSISDN = "msisdn"

	// pepperSize is the number of random bytes behind a pepper; the pepper
	// itself is the hex form.
	pepperSize = 32
)

// Hash3PID computes the lookup digest a client sends for one identifier:
// unpadded URL-safe base64 of sha256("<value> <medium> <pepper>").
func Hash3PID(value, medium, pepper string) string {
	sum := sha256.Sum256([]byte(value + " " + medium + " " + pepper))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// NormalizeAddress canonicalizes an identifier before hashing so that the
// directory and clients agree on the input. Email addresses are compared
// case-insensitively; phone numbers keep digits only.
func NormalizeAddress(medium, value string) string {
	value = strings.TrimSpace(value)
	switch medium {
	case MediumEmail:
		return strings.ToLower(value)
	case MediumMSISDN:
		var b strings.Builder
		for _, r := range value {
			if r >= '0' && r <= '9' {
				b.WriteRune(r)
			}
		}
		return b.String()
	default:
		return value
	}
}

// NewPepper returns a fresh random pepper.
func NewPepper() (string, error) {
	return common.MakeRandHexString(pepperSize)
}
