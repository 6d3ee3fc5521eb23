package activation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quantivhq/quantiv/internal/license"
)

// LicenseFileName is the delivery file dropped next to the installer and
// scanned for during auto-activation.
const LicenseFileName = "Quantiv-license.json"

// LicenseFile is the license delivery document bundled with a purchase.
type LicenseFile struct {
	Product       string `json:"product,omitempty"`
	CustomerName  string `json:"customerName,omitempty"`
	CustomerEmail string `json:"customerEmail"`
	LicenseKey    string `json:"licenseKey"`
	IssuedAt      string `json:"issuedAt,omitempty"`
}

// DefaultDownloadsDir returns the per-user downloads folder scanned by
// auto-activation.
func DefaultDownloadsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, "Downloads"), nil
}

// AutoActivate looks for a license delivery file in dir and, if present and
// well formed, activates with its key and email. The consumed file is
// deleted on success. All failure modes fall through silently to
// no_license_found so the caller proceeds to interactive activation.
func (m *Machine) AutoActivate(dir string) (Result, error) {
	path := filepath.Join(dir, LicenseFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn().Err(err).Str("path", path).Msg("license delivery file unreadable")
		}
		return Result{Reason: ReasonNoLicenseFound}, nil
	}

	var lf LicenseFile
	if err := json.Unmarshal(data, &lf); err != nil {
		m.logger.Warn().Err(err).Str("path", path).Msg("license delivery file is not valid JSON")
		return Result{Reason: ReasonNoLicenseFound}, nil
	}
	if lf.LicenseKey == "" || lf.CustomerEmail == "" {
		m.logger.Warn().Str("path", path).Msg("license delivery file missing key or email")
		return Result{Reason: ReasonNoLicenseFound}, nil
	}
	if !license.ValidateIssuedKeyFormat(lf.LicenseKey) && !license.ValidateEmbeddedKeyFormat(lf.LicenseKey) {
		m.logger.Warn().Str("path", path).Msg("license delivery file carries a malformed key")
		return Result{Reason: ReasonNoLicenseFound}, nil
	}

	res, err := m.Activate(lf.LicenseKey, lf.CustomerEmail)
	if err != nil {
		return Result{}, err
	}
	if !res.OK {
		m.logger.Warn().Str("reason", res.Reason).Msg("auto-activation rejected")
		return Result{Reason: ReasonNoLicenseFound}, nil
	}

	if err := os.Remove(path); err != nil {
		m.logger.Warn().Err(err).Str("path", path).Msg("could not delete consumed license file")
	} else {
		m.logger.Info().Str("path", path).Msg("auto-activated from license delivery file")
	}
	return res, nil
}
