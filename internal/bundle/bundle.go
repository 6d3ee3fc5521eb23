// Package bundle assembles the client package ZIP: the installer, the
// license delivery file consumed by auto-activation, an install script, a
// README, and a checksum manifest.
package bundle

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/quantivhq/quantiv/internal/activation"
)

// Options describes one client package.
type Options struct {
	// Installer streams the installer asset. Consumed exactly once.
	Installer     io.Reader
	InstallerName string
	Version       string
	License       activation.LicenseFile
}

// Filename returns the ZIP name for a package, derived from the customer
// email with filesystem-unsafe characters replaced.
func Filename(email, version string) string {
	return safeName(email) + "-" + version + ".zip"
}

// Write streams a complete client package to w.
func Write(w io.Writer, opts Options) error {
	zw := zip.NewWriter(w)

	sum, err := writeInstaller(zw, opts)
	if err != nil {
		return err
	}
	if err := writeLicenseFile(zw, opts.License); err != nil {
		return err
	}
	if strings.HasSuffix(strings.ToLower(opts.InstallerName), ".exe") {
		if err := writeInstallScript(zw, opts); err != nil {
			return err
		}
	}
	if err := writeReadme(zw, opts); err != nil {
		return err
	}
	if err := writeChecksums(zw, opts.InstallerName, sum); err != nil {
		return err
	}

	return zw.Close()
}

func writeInstaller(zw *zip.Writer, opts Options) (string, error) {
	f, err := zw.Create(opts.InstallerName)
	if err != nil {
		return "", fmt.Errorf("add installer entry: %w", err)
	}
	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, h), opts.Installer); err != nil {
		return "", fmt.Errorf("write installer: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeLicenseFile(zw *zip.Writer, lf activation.LicenseFile) error {
	if lf.Product == "" {
		lf.Product = "Quantiv"
	}
	if lf.IssuedAt == "" {
		lf.IssuedAt = time.Now().UTC().Format(time.RFC3339)
	}
	data, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal license file: %w", err)
	}
	f, err := zw.Create(activation.LicenseFileName)
	if err != nil {
		return fmt.Errorf("add license entry: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write license file: %w", err)
	}
	return nil
}

func writeInstallScript(zw *zip.Writer, opts Options) error {
	script := "@echo off\r\n" +
		"setlocal enableextensions enabledelayedexpansion\r\n" +
		fmt.Sprintf("set INST=\"%s\"\r\n", opts.InstallerName) +
		"echo Running installer for %USERNAME%...\r\n" +
		"echo.\r\n" +
		fmt.Sprintf("%%INST%% --license-key=\"%s\" --license-email=\"%s\"\r\n",
			opts.License.LicenseKey, opts.License.CustomerEmail) +
		"echo.\r\n" +
		"echo If Windows SmartScreen appears, click 'More info' then 'Run anyway'.\r\n" +
		"echo Done.\r\n"

	f, err := zw.Create("install-Quantiv.cmd")
	if err != nil {
		return fmt.Errorf("add install script entry: %w", err)
	}
	if _, err := f.Write([]byte(script)); err != nil {
		return fmt.Errorf("write install script: %w", err)
	}
	return nil
}

func writeReadme(zw *zip.Writer, opts Options) error {
	lines := []string{
		"Quantiv - Client Package",
		"",
		"Version: " + opts.Version,
		"Customer: " + opts.License.CustomerEmail,
		"",
		"Files:",
		"- " + opts.InstallerName + "  (installer)",
		"- " + activation.LicenseFileName + "  (your license, auto-detected on first start)",
	}
	if strings.HasSuffix(strings.ToLower(opts.InstallerName), ".exe") {
		lines = append(lines, "- install-Quantiv.cmd  (runs installer with your license)")
	}
	lines = append(lines,
		"- SHA256SUMS.txt  (checksum for verification)",
		"",
		"How to install:",
		"1) Run the installer",
		"2) If Windows SmartScreen appears: click \"More info\" then \"Run anyway\"",
		"3) After installation, launch Quantiv from Start Menu or Desktop shortcut",
		"",
		"Your license will be auto-activated on first app start.",
	)

	f, err := zw.Create("README-INSTALL.txt")
	if err != nil {
		return fmt.Errorf("add readme entry: %w", err)
	}
	if _, err := f.Write([]byte(strings.Join(lines, "\n") + "\n")); err != nil {
		return fmt.Errorf("write readme: %w", err)
	}
	return nil
}

func writeChecksums(zw *zip.Writer, installerName, sum string) error {
	f, err := zw.Create("SHA256SUMS.txt")
	if err != nil {
		return fmt.Errorf("add checksums entry: %w", err)
	}
	content := fmt.Sprintf("# SHA256 sums for client package\n%s  %s\n", sum, installerName)
	if _, err := f.Write([]byte(content)); err != nil {
		return fmt.Errorf("write checksums: %w", err)
	}
	return nil
}

func safeName(s string) string {
	if s == "" {
		return "client"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
