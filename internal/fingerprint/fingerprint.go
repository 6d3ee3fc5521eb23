// Package fingerprint derives a stable pseudo-identifier for the current
// machine from its hostname, network MAC addresses, platform, and
// architecture. The fingerprint binds a license record to one device.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	gopsnet "github.com/shirou/gopsutil/v3/net"
)

// Fingerprint returns the SHA-256 hex digest identifying the current machine.
// If host introspection fails it falls back to a digest of the current time:
// that degrades fingerprint stability but never blocks startup.
func Fingerprint() string {
	hostname, err := os.Hostname()
	if err != nil {
		return timeFallback()
	}

	macs, err := macAddresses()
	if err != nil {
		return timeFallback()
	}

	return Digest(Seed(hostname, macs, runtime.GOOS, runtime.GOARCH))
}

// Seed assembles the raw fingerprint input. MAC addresses join the same "|"
// separator as the outer fields, matching the persisted record format.
func Seed(hostname string, macs []string, platform, arch string) string {
	return strings.Join([]string{hostname, strings.Join(macs, "|"), platform, arch}, "|")
}

// Digest returns the SHA-256 hex digest of a seed string.
func Digest(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// macAddresses collects the hardware addresses of all network interfaces,
// skipping interfaces without one (loopback, tunnels).
func macAddresses() ([]string, error) {
	ifaces, err := gopsnet.Interfaces()
	if err != nil {
		return nil, err
	}

	var macs []string
	for _, iface := range ifaces {
		if iface.HardwareAddr != "" {
			macs = append(macs, iface.HardwareAddr)
		}
	}
	return macs, nil
}

// timeFallback derives a throwaway fingerprint from the wall clock.
func timeFallback() string {
	return Digest(strconv.FormatInt(time.Now().UnixMilli(), 10))
}
