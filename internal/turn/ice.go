package turn

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// Provider builds the ICE server list for a user. STUN servers are handed
// out as-is; TURN servers get per-user credentials derived from Secret.
type Provider struct {
	STUN     []string
	TURN     []string
	Secret   string
	Lifetime time.Duration

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Servers returns the ICE servers user should configure on its peer
// connection. TURN servers are omitted when no secret is configured.
func (p *Provider) Servers(user string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if len(p.STUN) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: append([]string(nil), p.STUN...)})
	}

	if len(p.TURN) == 0 || p.Secret == "" {
		return servers
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	lifetime := p.Lifetime
	if lifetime <= 0 {
		lifetime = DefaultCredentialLifetime
	}

	username, password := GenerateCredentials(p.Secret, user, now().Add(lifetime))
	return append(servers, webrtc.ICEServer{
		URLs:           append([]string(nil), p.TURN...),
		Username:       username,
		Credential:     password,
		CredentialType: webrtc.ICECredentialTypePassword,
	})
}
