package web

import (
	"testing"
	"time"
)

func TestAuthToken_RoundTrip(t *testing.T) {
	now := time.Now()
	token := generateAuthToken("reza", "secret-key", now)

	if !isValidAuthToken(token, "secret-key", now) {
		t.Error("freshly issued token must validate")
	}
	if isValidAuthToken(token, "other-key", now) {
		t.Error("token must not validate under a different key")
	}
}

func TestAuthToken_Expiry(t *testing.T) {
	now := time.Now()
	token := generateAuthToken("reza", "secret-key", now)

	if !isValidAuthToken(token, "secret-key", now.Add(authTokenTTL-time.Minute)) {
		t.Error("token must stay valid inside its TTL")
	}
	if isValidAuthToken(token, "secret-key", now.Add(authTokenTTL+time.Minute)) {
		t.Error("token must expire after its TTL")
	}
}

func TestAuthToken_RejectsMalformed(t *testing.T) {
	for _, token := range []string{
		"",
		"not-a-token",
		"a|b",
		"!!!|123|!!!",
	} {
		if isValidAuthToken(token, "secret-key", time.Now()) {
			t.Errorf("malformed token %q validated", token)
		}
	}
}
