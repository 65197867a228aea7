package fraud

import (
	"context"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/dataparency-dev/verification-core/types"
)

// detectNetwork implements the network sub-detector (spec §4.3): combines
// IP-reputation, device-fingerprint history, and timezone/IP-country
// consistency. Absent inputs contribute 0, never an error.
func (d *Detector) detectNetwork(ctx context.Context, req Request) (float64, string) {
	var score float64
	var reason string

	if req.IPAddress != "" {
		rep, err := d.signals.LookupIP(ctx, req.IPAddress)
		if err != nil {
			d.log.Warn().Err(err).Msg("IP reputation lookup failed, degrading to 0")
		} else if rep.Known && rep.DistinctWorkers > 5 {
			score = 0.8
			reason = "IP shared by more than five distinct workers"
		}
	}

	if req.DeviceFingerprint != nil {
		fpHash := fingerprintHash(*req.DeviceFingerprint)
		hist, err := d.signals.LookupDevice(ctx, fpHash)
		if err != nil {
			d.log.Warn().Err(err).Msg("device fingerprint lookup failed, degrading to 0")
		} else if hist.Known && hist.DistinctWorkers > 3 && 0.7 > score {
			score = 0.7
			reason = "device fingerprint shared by more than three distinct workers"
		}

		if req.DeviceFingerprint.Blocked() {
			// Automation signal: three-of-three canvas/webgl/plugins
			// blocked floors the combined network score (spec §4.3).
			if score < 0.9 {
				score = 0.9
				reason = "device fingerprint blocks canvas, webgl, and plugins"
			}
		}
	}

	if req.IPAddress != "" && req.Timezone != "" {
		consistent, err := d.signals.TimezoneConsistent(ctx, req.IPAddress, req.Timezone)
		if err != nil {
			d.log.Warn().Err(err).Msg("timezone consistency lookup failed, degrading to 0")
		} else if !consistent && 0.5 > score {
			score = 0.5
			reason = "timezone inconsistent with IP geolocation"
		}
	}

	return score, reason
}

// fingerprintHash derives a stable lookup key for a device fingerprint
// without ever sending the raw canvas/webgl strings to the signal
// provider.
func fingerprintHash(fp types.DeviceFingerprint) string {
	sum := blake2b.Sum256([]byte(fp.Canvas + "|" + fp.WebGL + "|" + strings.Join(fp.Plugins, ",")))
	return hex.EncodeToString(sum[:])
}
