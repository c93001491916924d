package simplenet

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestAuthTokenRoundTrip tests that a token made from a lifetime verifies
// while the lifetime lasts and yields the signed client id.
func TestAuthTokenRoundTrip(t *testing.T) {
	t.Parallel()

	priv, pub, err := GenerateAuthTokenKeys()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}

	id := uuid.New()
	token := MakeAuthTokenFromLifetime(priv, 60, id)

	got, err := VerifyAuthToken(pub, token, time.Now())
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if got != id {
		t.Errorf("verified client id = %s, want %s", got, id)
	}
}

// TestAuthTokenExpiry tests the verification law: a token verifies iff
// now <= issue + lifetime.
func TestAuthTokenExpiry(t *testing.T) {
	t.Parallel()

	priv, pub, err := GenerateAuthTokenKeys()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}

	id := uuid.New()
	expiry := uint64(time.Now().Unix()) + 100
	token := MakeAuthTokenFromExpiry(priv, expiry, id)

	tests := []struct {
		name    string
		now     time.Time
		wantErr error
	}{
		{"well before expiry", time.Unix(int64(expiry)-50, 0), nil},
		{"exactly at expiry", time.Unix(int64(expiry), 0), nil},
		{"after expiry", time.Unix(int64(expiry)+1, 0), ErrTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := VerifyAuthToken(pub, token, tt.now)
			if err != tt.wantErr {
				t.Errorf("verify error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestAuthTokenTampering tests that modified tokens fail signature
// verification.
func TestAuthTokenTampering(t *testing.T) {
	t.Parallel()

	priv, pub, err := GenerateAuthTokenKeys()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}
	_, otherPub, err := GenerateAuthTokenKeys()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}

	id := uuid.New()
	token := MakeAuthTokenFromLifetime(priv, 60, id)

	t.Run("tampered client id", func(t *testing.T) {
		bad := token
		bad.ClientID = uuid.New()
		if _, err := VerifyAuthToken(pub, bad, time.Now()); err != ErrTokenSignature {
			t.Errorf("verify error = %v, want %v", err, ErrTokenSignature)
		}
	})

	t.Run("tampered expiry", func(t *testing.T) {
		bad := token
		bad.Expiry += 1000
		if _, err := VerifyAuthToken(pub, bad, time.Now()); err != ErrTokenSignature {
			t.Errorf("verify error = %v, want %v", err, ErrTokenSignature)
		}
	})

	t.Run("tampered signature", func(t *testing.T) {
		bad := token
		bad.Signature[0] ^= 0xFF
		if _, err := VerifyAuthToken(pub, bad, time.Now()); err != ErrTokenSignature {
			t.Errorf("verify error = %v, want %v", err, ErrTokenSignature)
		}
	})

	t.Run("wrong public key", func(t *testing.T) {
		if _, err := VerifyAuthToken(otherPub, token, time.Now()); err != ErrTokenSignature {
			t.Errorf("verify error = %v, want %v", err, ErrTokenSignature)
		}
	})
}

// TestAuthTokenEncoding tests the base64url transport encoding round-trip.
func TestAuthTokenEncoding(t *testing.T) {
	t.Parallel()

	priv, _, err := GenerateAuthTokenKeys()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}

	token := MakeAuthTokenFromLifetime(priv, 30, uuid.New())

	parsed, err := ParseAuthToken(token.Encode())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed != token {
		t.Errorf("parsed token = %+v, want %+v", parsed, token)
	}

	if _, err := ParseAuthToken("not base64url!!!"); err == nil {
		t.Error("expected error for invalid encoding")
	}
	if _, err := ParseAuthToken("AAAA"); err == nil {
		t.Error("expected error for truncated token")
	}
}

// TestAuthTokenTimeUntilExpiry tests the expiry accessors.
func TestAuthTokenTimeUntilExpiry(t *testing.T) {
	t.Parallel()

	expired := AuthToken{Expiry: uint64(time.Now().Add(-time.Hour).Unix())}
	if !expired.IsExpired() {
		t.Error("token an hour past expiry should be expired")
	}
	if expired.TimeUntilExpiry() != 0 {
		t.Errorf("expired token remaining = %v, want 0", expired.TimeUntilExpiry())
	}

	live := AuthToken{Expiry: uint64(time.Now().Add(time.Hour).Unix())}
	if live.IsExpired() {
		t.Error("token an hour before expiry should not be expired")
	}
	if live.TimeUntilExpiry() == 0 {
		t.Error("live token should have time remaining")
	}
}

// TestSecretAuthenticator tests the constant-time shared secret check.
func TestSecretAuthenticator(t *testing.T) {
	t.Parallel()

	secret := [SecretAuthBytes]byte{1, 2, 3, 4}
	wrong := [SecretAuthBytes]byte{4, 3, 2, 1}
	auth := SecretAuthenticator{Secret: secret}
	id := uuid.New()

	tests := []struct {
		name string
		req  AuthRequest
		want bool
	}{
		{"matching secret", NewSecretAuth(id, secret), true},
		{"wrong secret", NewSecretAuth(id, wrong), false},
		{"wrong kind", NewNoneAuth(id), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := auth.Authenticate(tt.req); got != tt.want {
				t.Errorf("Authenticate() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestTokenAuthenticator tests token admission against signature and
// expiry.
func TestTokenAuthenticator(t *testing.T) {
	t.Parallel()

	priv, pub, err := GenerateAuthTokenKeys()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}
	auth := TokenAuthenticator{PubKey: pub}
	id := uuid.New()

	if !auth.Authenticate(NewTokenAuth(MakeAuthTokenFromLifetime(priv, 60, id))) {
		t.Error("valid token should authenticate")
	}
	expired := MakeAuthTokenFromExpiry(priv, uint64(time.Now().Add(-time.Minute).Unix()), id)
	if auth.Authenticate(NewTokenAuth(expired)) {
		t.Error("expired token should not authenticate")
	}
	if auth.Authenticate(NewNoneAuth(id)) {
		t.Error("non-token request should not authenticate")
	}
}

// TestNoneAuthenticator tests the unauthenticated admission path.
func TestNoneAuthenticator(t *testing.T) {
	t.Parallel()

	auth := NoneAuthenticator{}
	if !auth.Authenticate(NewNoneAuth(uuid.New())) {
		t.Error("none request should authenticate")
	}
	if auth.Authenticate(NewSecretAuth(uuid.New(), [SecretAuthBytes]byte{})) {
		t.Error("secret request should not authenticate against a none authenticator")
	}
}
