// Package activation implements the desktop side of the license lifecycle:
// verifying the stored record on startup, creating a trial on first run, and
// upgrading the record when the user supplies a customer key.
package activation

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantivhq/quantiv/internal/fingerprint"
	"github.com/quantivhq/quantiv/internal/license"
	"github.com/quantivhq/quantiv/internal/record"
)

// Verification outcome reasons. OK results carry no reason.
const (
	ReasonActivationRequired = "activation_required"
	ReasonLicenseInvalid     = "license_invalid"
	ReasonLicenseTampered    = "license_tampered"
	ReasonDeviceMismatch     = "license_device_mismatch"
	ReasonInvalidKeyFormat   = "invalid_key_format"
	ReasonNoLicenseFound     = "no_license_found"
)

// Result reports the outcome of a verification or activation attempt.
type Result struct {
	OK            bool        `json:"ok"`
	Reason        string      `json:"reason,omitempty"`
	Type          record.Type `json:"type,omitempty"`
	CustomerEmail string      `json:"customerEmail,omitempty"`
	ActivatedAt   string      `json:"activatedAt,omitempty"`
	// FirstRun is set alongside activation_required when the trial record
	// was created by this call rather than found on disk.
	FirstRun bool `json:"firstRun,omitempty"`
}

// Machine verifies and mutates the local license record. Activation is fully
// offline: supplying a key in a valid format upgrades the record without any
// server round trip.
type Machine struct {
	store       *record.Store
	fingerprint func() string
	now         func() time.Time
	logger      zerolog.Logger
}

// NewMachine creates a machine over the given record store.
func NewMachine(store *record.Store, logger zerolog.Logger) *Machine {
	return &Machine{
		store:       store,
		fingerprint: fingerprint.Fingerprint,
		now:         time.Now,
		logger:      logger.With().Str("component", "activation").Logger(),
	}
}

// SetFingerprintFunc overrides device fingerprinting. Intended for tests.
func (m *Machine) SetFingerprintFunc(fn func() string) {
	m.fingerprint = fn
}

// SetNowFunc overrides the clock. Intended for tests.
func (m *Machine) SetNowFunc(fn func() time.Time) {
	m.now = fn
}

// VerifyOrCreate checks the stored record against this device. On first run
// it creates a trial record and reports activation_required with FirstRun
// set. Corrupt or tampered records fail closed; they are never repaired or
// recreated automatically.
func (m *Machine) VerifyOrCreate() (Result, error) {
	rec, err := m.store.Load()
	switch {
	case errors.Is(err, record.ErrNotFound):
		rec = record.NewTrial(m.fingerprint())
		if saveErr := m.store.Save(rec); saveErr != nil {
			return Result{}, fmt.Errorf("create trial record: %w", saveErr)
		}
		m.logger.Info().Str("license_id", rec.LicenseID).Msg("created trial record on first run")
		return Result{Reason: ReasonActivationRequired, FirstRun: true}, nil
	case errors.Is(err, record.ErrInvalid):
		m.logger.Warn().Err(err).Msg("license record failed validation")
		return Result{Reason: ReasonLicenseInvalid}, nil
	case err != nil:
		return Result{}, err
	}

	if !rec.VerifySignature() {
		m.logger.Warn().Str("license_id", rec.LicenseID).Msg("license record signature mismatch")
		return Result{Reason: ReasonLicenseTampered}, nil
	}
	if rec.Device != m.fingerprint() {
		m.logger.Warn().Str("license_id", rec.LicenseID).Msg("license record bound to another device")
		return Result{Reason: ReasonDeviceMismatch}, nil
	}
	if rec.RequiresActivation || (rec.Type == record.TypeCustomer && rec.CustomerKey == "") {
		return Result{Reason: ReasonActivationRequired}, nil
	}

	return Result{
		OK:            true,
		Type:          rec.Type,
		CustomerEmail: rec.CustomerEmail,
		ActivatedAt:   rec.ActivatedAt,
	}, nil
}

// Activate rewrites the local record with a customer key. Either key variant
// is accepted; anything else is rejected as invalid_key_format before the
// record is touched. The record is not verified first: a format-valid key
// always activates, rebinding the record to the current device and
// recomputing the signature. Only licenseId and createdAt survive from an
// existing record; a missing record is started fresh.
func (m *Machine) Activate(key, email string) (Result, error) {
	normalized, ok := normalizeKey(key)
	if !ok {
		return Result{Reason: ReasonInvalidKeyFormat}, nil
	}

	rec, err := m.store.Load()
	switch {
	case errors.Is(err, record.ErrNotFound):
		rec = record.NewTrial(m.fingerprint())
	case errors.Is(err, record.ErrInvalid):
		m.logger.Warn().Err(err).Msg("license record failed validation")
		return Result{Reason: ReasonLicenseInvalid}, nil
	case err != nil:
		return Result{}, err
	}

	rec.Device = m.fingerprint()
	rec.CustomerKey = normalized
	rec.CustomerEmail = email
	rec.Type = record.TypeCustomer
	rec.ActivatedAt = m.now().UTC().Format(time.RFC3339)
	rec.RequiresActivation = false
	rec.Signature = rec.ComputeSignature()

	if err := m.store.Save(rec); err != nil {
		return Result{}, fmt.Errorf("save activated record: %w", err)
	}
	m.logger.Info().Str("license_id", rec.LicenseID).Str("email", email).Msg("license activated")

	return Result{
		OK:            true,
		Type:          rec.Type,
		CustomerEmail: rec.CustomerEmail,
		ActivatedAt:   rec.ActivatedAt,
	}, nil
}

// Deactivate removes the local record. Deactivating with no record present
// succeeds.
func (m *Machine) Deactivate() error {
	if err := m.store.Delete(); err != nil {
		return err
	}
	m.logger.Info().Msg("license record removed")
	return nil
}

// Info describes the stored record without mutating anything.
type Info struct {
	Present       bool        `json:"present"`
	Valid         bool        `json:"valid"`
	Reason        string      `json:"reason,omitempty"`
	LicenseID     string      `json:"licenseId,omitempty"`
	Type          record.Type `json:"type,omitempty"`
	CustomerEmail string      `json:"customerEmail,omitempty"`
	Device        string      `json:"device,omitempty"`
	CreatedAt     string      `json:"createdAt,omitempty"`
	ActivatedAt   string      `json:"activatedAt,omitempty"`
	Activated     bool        `json:"activated"`
}

// Info reports the current record state for display. Unlike VerifyOrCreate
// it never creates a trial record.
func (m *Machine) Info() (Info, error) {
	rec, err := m.store.Load()
	switch {
	case errors.Is(err, record.ErrNotFound):
		return Info{}, nil
	case errors.Is(err, record.ErrInvalid):
		return Info{Present: true, Reason: ReasonLicenseInvalid}, nil
	case err != nil:
		return Info{}, err
	}

	info := Info{
		Present:       true,
		LicenseID:     rec.LicenseID,
		Type:          rec.Type,
		CustomerEmail: rec.CustomerEmail,
		Device:        rec.Device,
		CreatedAt:     rec.CreatedAt,
		ActivatedAt:   rec.ActivatedAt,
		Activated:     !rec.RequiresActivation,
	}
	switch {
	case !rec.VerifySignature():
		info.Reason = ReasonLicenseTampered
	case rec.Device != m.fingerprint():
		info.Reason = ReasonDeviceMismatch
	default:
		info.Valid = true
	}
	return info, nil
}

// normalizeKey validates either key variant and returns its canonical form.
// Issued keys are stored as-is; embedded keys are stored stripped of
// separators and uppercased.
func normalizeKey(key string) (string, bool) {
	if license.ValidateIssuedKeyFormat(key) {
		return key, true
	}
	if license.ValidateEmbeddedKeyFormat(key) {
		return license.CanonicalEmbeddedKey(key), true
	}
	return "", false
}
