package enrollment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// FingerprintProvider produces the stable identifier the enrollment protocol
// keys records by.
type FingerprintProvider interface {
	// Fingerprint returns the device's stable hardware-derived identifier.
	Fingerprint(ctx context.Context) (string, error)
}

// HostFingerprinter derives a fingerprint from host characteristics: the
// machine ID, platform, and architecture, hashed so the raw identifiers never
// leave the device.
type HostFingerprinter struct {
	log *slog.Logger
}

// NewHostFingerprinter creates the default fingerprint provider.
func NewHostFingerprinter(log *slog.Logger) *HostFingerprinter {
	return &HostFingerprinter{log: log}
}

// Fingerprint hashes the host's stable identifiers into a hex digest.
func (f *HostFingerprinter) Fingerprint(ctx context.Context) (string, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("could not collect host info: %w", err)
	}
	if info.HostID == "" {
		return "", fmt.Errorf("host reports no stable machine id")
	}

	material := strings.Join([]string{info.HostID, info.Platform, runtime.GOARCH}, "|")
	sum := sha256.Sum256([]byte(material))
	fp := hex.EncodeToString(sum[:])

	f.log.Debug("Derived hardware fingerprint",
		slog.String("platform", info.Platform),
		slog.String("fingerprint", fp[:12]+"..."))
	return fp, nil
}

// DeviceFacts returns the presentation fields submitted alongside the
// fingerprint so an administrator can recognize the device.
func (f *HostFingerprinter) DeviceFacts(ctx context.Context) (hostname, platform string) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		f.log.Debug("Could not collect device facts", "err", err)
		return "", ""
	}
	platform = strings.TrimSpace(info.Platform + " " + info.PlatformVersion)
	return info.Hostname, platform
}
