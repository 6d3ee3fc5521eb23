// Package record manages the persisted license record: a single JSON document
// per installation holding the license identity, device binding, and an
// HMAC-SHA256 signature over the identity fields.
package record

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type classifies a license record.
type Type string

const (
	// TypeTrial is the record created on first run, before activation.
	TypeTrial Type = "trial"
	// TypeCustomer is a record upgraded by supplying a customer key.
	TypeCustomer Type = "customer"
)

// IsValid checks if the type is a recognized value.
func (t Type) IsValid() bool {
	return t == TypeTrial || t == TypeCustomer
}

var (
	// ErrNotFound indicates no license record file exists.
	ErrNotFound = errors.New("license record not found")
	// ErrInvalid indicates the record file is malformed or missing required
	// fields. Corruption fails closed as invalid rather than defaulting.
	ErrInvalid = errors.New("license record invalid")
)

// signingSecret keys the record signature. Embedded in the application; the
// scheme is device binding, not cryptographic protection against a user who
// can read the binary.
var signingSecret = []byte("ebt-license-secret-2024-enhanced")

// SetSigningSecret overrides the HMAC secret. Intended for tests.
func SetSigningSecret(secret []byte) {
	signingSecret = secret
}

// Record is the persisted license document.
type Record struct {
	LicenseID          string `json:"licenseId"`
	Device             string `json:"device"`
	Signature          string `json:"signature"`
	CustomerKey        string `json:"customerKey,omitempty"`
	CustomerEmail      string `json:"customerEmail,omitempty"`
	Type               Type   `json:"type"`
	CreatedAt          string `json:"createdAt"`
	ActivatedAt        string `json:"activatedAt,omitempty"`
	RequiresActivation bool   `json:"requiresActivation,omitempty"`
}

// Sign computes the HMAC-SHA256 hex signature over the identity fields.
// Absent key/email contribute empty strings, so a freshly created trial
// record signs "licenseId|device||".
func Sign(licenseID, device, customerKey, customerEmail string) string {
	mac := hmac.New(sha256.New, signingSecret)
	mac.Write([]byte(strings.Join([]string{licenseID, device, customerKey, customerEmail}, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}

// ComputeSignature returns the signature the record's current fields demand.
func (r *Record) ComputeSignature() string {
	return Sign(r.LicenseID, r.Device, r.CustomerKey, r.CustomerEmail)
}

// VerifySignature reports whether the stored signature matches the fields.
func (r *Record) VerifySignature() bool {
	return hmac.Equal([]byte(r.Signature), []byte(r.ComputeSignature()))
}

// Validate checks the structural invariants of a loaded record. It does not
// verify the signature or device binding; those are verification concerns.
func (r *Record) Validate() error {
	switch {
	case r.LicenseID == "":
		return fmt.Errorf("%w: missing licenseId", ErrInvalid)
	case r.Device == "":
		return fmt.Errorf("%w: missing device", ErrInvalid)
	case r.Signature == "":
		return fmt.Errorf("%w: missing signature", ErrInvalid)
	case !r.Type.IsValid():
		return fmt.Errorf("%w: unknown type %q", ErrInvalid, r.Type)
	case r.CreatedAt == "":
		return fmt.Errorf("%w: missing createdAt", ErrInvalid)
	}
	return nil
}

// NewTrial creates a signed trial record bound to the given device.
func NewTrial(device string) *Record {
	id := uuid.NewString()
	return &Record{
		LicenseID:          id,
		Device:             device,
		Signature:          Sign(id, device, "", ""),
		Type:               TypeTrial,
		CreatedAt:          time.Now().UTC().Format(time.RFC3339),
		RequiresActivation: true,
	}
}

// DefaultPath returns the per-user record location, a single file under the
// platform config directory.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(base, "Quantiv", "license.dat"), nil
}

// Store reads and writes the license record file.
type Store struct {
	path string
}

// NewStore creates a store for the record file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// NewDefaultStore creates a store at the platform default location.
func NewDefaultStore() (*Store, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return NewStore(path), nil
}

// Path returns the record file location.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether a record file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads and strictly decodes the record. Unknown fields, malformed JSON,
// and missing required fields all surface as ErrInvalid; a missing file is
// ErrNotFound.
func (s *Store) Load() (*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read license record: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Save writes the record as pretty-printed JSON. The write goes through a
// temporary file and rename so a concurrent first run cannot observe a
// half-written record.
func (s *Store) Save(rec *Record) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create license directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal license record: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".license-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write license record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close license record: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod license record: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace license record: %w", err)
	}
	return nil
}

// Delete removes the record file. Deleting an absent record is not an error.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete license record: %w", err)
	}
	return nil
}
