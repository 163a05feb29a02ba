// Package turn issues time-limited TURN credentials and assembles the ICE
// server list handed to clients.
package turn

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"
)

// DefaultCredentialLifetime is the default validity period for TURN credentials.
const DefaultCredentialLifetime = 24 * time.Hour

// GenerateCredentials creates TURN REST API credentials for user that stop
// being valid at expiresAt. This is the scheme coturn calls
// use-auth-secret:
//
//	username = "<unix_expiry>:<user>"
//	password = base64(HMAC-SHA1(secret, username))
func GenerateCredentials(secret, user string, expiresAt time.Time) (username, password string) {
	username = fmt.Sprintf("%d:%s", expiresAt.Unix(), user)
	return username, computePassword(secret, username)
}

// computePassword generates the HMAC-SHA1 password for TURN REST API credentials.
func computePassword(secret, username string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
