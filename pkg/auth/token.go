// Package auth verifies device tokens presented during WebSocket handshakes.
//
// A token is derived from "<device_id>:<timestamp_ms>:<shared_secret>". Two
// derivations are accepted: SHA-256 hex (current clients) and a 32-bit rolling
// hash kept for older mobile builds. Verification failures are opaque — the
// caller only learns accept/reject.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// MaxClockSkew is the permitted absolute difference between the client
// timestamp and server time.
const MaxClockSkew = 5 * time.Minute

// DefaultSecret is used when OPENCLI_SECRET is not configured.
const DefaultSecret = "opencli-default-secret"

// VerifyToken reports whether token is a valid credential for deviceID at
// timestampMS (milliseconds since epoch, client clock).
func VerifyToken(deviceID string, timestampMS int64, token, secret string) bool {
	return verifyAt(deviceID, timestampMS, token, secret, time.Now())
}

func verifyAt(deviceID string, timestampMS int64, token, secret string, now time.Time) bool {
	if deviceID == "" || token == "" {
		return false
	}
	skew := now.UnixMilli() - timestampMS
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxClockSkew.Milliseconds() {
		return false
	}
	message := deviceID + ":" + strconv.FormatInt(timestampMS, 10) + ":" + secret
	if hmac.Equal([]byte(sha256Hex(message)), []byte(token)) {
		return true
	}
	return hmac.Equal([]byte(rollingHex(message)), []byte(token))
}

// GenerateToken produces the SHA-256 form of the token. Exposed for tests and
// local tooling; real clients compute this themselves.
func GenerateToken(deviceID string, timestampMS int64, secret string) string {
	return sha256Hex(deviceID + ":" + strconv.FormatInt(timestampMS, 10) + ":" + secret)
}

// LegacyToken produces the 32-bit rolling-hash form still emitted by older
// clients: h = (h*31 + byte) truncated to 32 bits, rendered as lowercase hex
// without leading zeros.
func LegacyToken(deviceID string, timestampMS int64, secret string) string {
	return rollingHex(deviceID + ":" + strconv.FormatInt(timestampMS, 10) + ":" + secret)
}

func sha256Hex(message string) string {
	sum := sha256.Sum256([]byte(message))
	return hex.EncodeToString(sum[:])
}

func rollingHex(message string) string {
	var h uint32
	for _, b := range []byte(message) {
		h = (h << 5) - h + uint32(b)
	}
	return fmt.Sprintf("%x", h)
}
