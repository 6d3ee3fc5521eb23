// Package license provides license key generation and validation for Quantiv.
//
// Two key variants coexist and are deliberately not interchangeable:
//
//   - EmbeddedKey is generated inside the desktop app. Its seed includes the
//     current timestamp and device fingerprint, so regeneration can never
//     reproduce a key; validation is a pure syntax check.
//   - IssuedKey is generated by the issuance service and the standalone
//     license-generator tool. It derives deterministically from the customer
//     name and email, so a key can be verified by regenerating it.
//
// The issuance service only ever recognizes IssuedKeys; the desktop record
// store only format-checks whatever key the customer supplies.
package license

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/quantivhq/quantiv/internal/fingerprint"
)

// IssuedKeySecret keys the deterministic issued-key derivation. It is shared
// between the issuance service and the standalone generator tool.
const IssuedKeySecret = "ABTK-2024-SECRET-KEY-DO-NOT-SHARE"

var (
	embeddedKeyPattern = regexp.MustCompile(`^[A-Fa-f0-9]{16}$`)
	issuedKeyPattern   = regexp.MustCompile(`^ABTK-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)
	keyStripper        = regexp.MustCompile(`[-\s]`)
)

// EmbeddedKey is a desktop-app generated key, formatted XXXX-XXXX-XXXX-XXXX.
type EmbeddedKey string

// IssuedKey is a server/tool generated key, formatted ABTK-XXXX-XXXX-XXXX-XXXX.
type IssuedKey string

// GenerateEmbeddedKey derives a key from the customer email, purchase ID,
// current timestamp, and device fingerprint. Two calls with identical customer
// data produce different keys; only the format can be validated afterwards.
func GenerateEmbeddedKey(customerEmail, purchaseID string) EmbeddedKey {
	seed := strings.Join([]string{
		customerEmail,
		purchaseID,
		strconv.FormatInt(time.Now().UnixMilli(), 10),
		fingerprint.Fingerprint(),
	}, "|")

	sum := sha256.Sum256([]byte(seed))
	raw := strings.ToUpper(hex.EncodeToString(sum[:]))[:16]
	return EmbeddedKey(fmt.Sprintf("%s-%s-%s-%s", raw[0:4], raw[4:8], raw[8:12], raw[12:16]))
}

// ValidateEmbeddedKeyFormat reports whether key is exactly 16 hex characters
// once dashes and whitespace are stripped. Case-insensitive.
func ValidateEmbeddedKeyFormat(key string) bool {
	if key == "" {
		return false
	}
	return embeddedKeyPattern.MatchString(keyStripper.ReplaceAllString(key, ""))
}

// CanonicalEmbeddedKey strips separators and uppercases an embedded key for
// storage and comparison. The input must already be format-valid.
func CanonicalEmbeddedKey(key string) string {
	return strings.ToUpper(keyStripper.ReplaceAllString(key, ""))
}

// GenerateIssuedKey derives a deterministic key from the customer name and
// email. Inputs are trimmed and lowercased, so the same customer always
// receives the same key.
func GenerateIssuedKey(customerName, customerEmail string) (IssuedKey, error) {
	if customerName == "" || customerEmail == "" {
		return "", fmt.Errorf("customer name and email are required")
	}

	seed := fmt.Sprintf("%s:%s:%s",
		strings.ToLower(strings.TrimSpace(customerName)),
		strings.ToLower(strings.TrimSpace(customerEmail)),
		IssuedKeySecret,
	)

	sum := sha256.Sum256([]byte(seed))
	raw := strings.ToUpper(hex.EncodeToString(sum[:]))[:16]
	return IssuedKey(fmt.Sprintf("ABTK-%s-%s-%s-%s", raw[0:4], raw[4:8], raw[8:12], raw[12:16])), nil
}

// ValidateIssuedKeyFormat reports whether key matches the
// ABTK-XXXX-XXXX-XXXX-XXXX format. Unlike the embedded format this check is
// case-sensitive: issued keys are always uppercase.
func ValidateIssuedKeyFormat(key string) bool {
	return issuedKeyPattern.MatchString(key)
}

// VerifyIssuedKey reports whether key is the key that would be issued to the
// given customer. Format-invalid keys are rejected without regeneration.
func VerifyIssuedKey(key IssuedKey, customerName, customerEmail string) bool {
	if !ValidateIssuedKeyFormat(string(key)) {
		return false
	}
	expected, err := GenerateIssuedKey(customerName, customerEmail)
	if err != nil {
		return false
	}
	return key == expected
}
