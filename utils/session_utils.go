package utils

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/rs/zerolog/log"
)

// GenerateSessionID mints an opaque session identifier for trackers that
// connect without one (first page of a fresh visit).
func GenerateSessionID() string {
	return "sess_" + randomToken(18)
}

// GenerateVisitorID mints a long-lived pseudo-identity for a browser the
// tracker has never tagged before.
func GenerateVisitorID() string {
	return "v_" + randomToken(18)
}

func randomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the process is in serious trouble.
		log.Error().Err(err).Msg("failed to generate random token")
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
