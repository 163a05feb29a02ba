package turn

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strconv"
	"strings"
	"testing"
	"time"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestGenerateCredentials(t *testing.T) {
	t.Parallel()

	expires := now.Add(DefaultCredentialLifetime)
	username, password := GenerateCredentials("test-secret-key", "u1", expires)

	expiry, user, ok := strings.Cut(username, ":")
	if !ok {
		t.Fatalf("username format: got %q, want '<expiry>:<user>'", username)
	}
	if user != "u1" {
		t.Errorf("user: got %q, want %q", user, "u1")
	}
	if expiry != strconv.FormatInt(expires.Unix(), 10) {
		t.Errorf("expiry: got %s, want %d", expiry, expires.Unix())
	}
	if password == "" {
		t.Fatal("password is empty")
	}
}

func TestGenerateCredentials_passwordIsHMAC(t *testing.T) {
	t.Parallel()

	username, password := GenerateCredentials("shared-secret", "u1", now.Add(time.Hour))

	mac := hmac.New(sha1.New, []byte("shared-secret"))
	mac.Write([]byte(username))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if password != want {
		t.Errorf("password = %q, want %q", password, want)
	}

	_, other := GenerateCredentials("other-secret", "u1", now.Add(time.Hour))
	if other == password {
		t.Error("different secrets produced the same password")
	}
}

func TestProvider_Servers(t *testing.T) {
	t.Parallel()

	p := &Provider{
		STUN:   []string{"stun:stun.l.google.com:19302"},
		TURN:   []string{"turn:turn.example.com:3478?transport=udp"},
		Secret: "turn-secret",
		Now:    func() time.Time { return now },
	}

	servers := p.Servers("u1")
	if len(servers) != 2 {
		t.Fatalf("len(servers) = %d, want 2", len(servers))
	}
	if servers[0].Username != "" {
		t.Errorf("STUN entry carries a username: %q", servers[0].Username)
	}

	turn := servers[1]
	password, ok := turn.Credential.(string)
	if !ok {
		t.Fatalf("credential type %T, want string", turn.Credential)
	}
	wantUser, wantPassword := GenerateCredentials("turn-secret", "u1", now.Add(DefaultCredentialLifetime))
	if turn.Username != wantUser || password != wantPassword {
		t.Errorf("TURN credentials = %q/%q, want %q/%q", turn.Username, password, wantUser, wantPassword)
	}
	if !strings.HasSuffix(turn.Username, ":u1") {
		t.Errorf("username %q does not name the user", turn.Username)
	}
}

func TestProvider_NoSecretNoTURN(t *testing.T) {
	t.Parallel()

	p := &Provider{
		STUN: []string{"stun:stun.l.google.com:19302"},
		TURN: []string{"turn:turn.example.com:3478"},
	}
	if servers := p.Servers("u1"); len(servers) != 1 {
		t.Errorf("len(servers) = %d, want only the STUN entry", len(servers))
	}

	if servers := (&Provider{}).Servers("u1"); len(servers) != 0 {
		t.Errorf("empty provider returned %d servers", len(servers))
	}
}
