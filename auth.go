package simplenet

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	// SecretAuthBytes is the secret size for secret authentication.
	SecretAuthBytes = 16
	// AuthTokenSignatureBytes is the byte length of an AuthToken signature.
	AuthTokenSignatureBytes = ed25519.SignatureSize
	// authTokenPayloadBytes is the signed portion of a token:
	// client id (16) followed by expiry seconds (8, little-endian).
	authTokenPayloadBytes = 16 + 8
	// authTokenBytes is the full binary token size.
	authTokenBytes = authTokenPayloadBytes + AuthTokenSignatureBytes
)

var (
	ErrTokenMalformed = errors.New("auth token malformed")
	ErrTokenSignature = errors.New("auth token signature invalid")
	ErrTokenExpired   = errors.New("auth token expired")
)

// AuthKind discriminates the authentication variants carried in the opening
// exchange.
type AuthKind byte

const (
	AuthKindNone AuthKind = iota + 1
	AuthKindSecret
	AuthKindToken
)

// AuthToken is a signed client id with an expiry, produced by a trusted
// token issuer and verified by the server.
//
// The token is invalid when the current time exceeds the expiry.
type AuthToken struct {
	// ClientID is the client id authenticated by the token.
	ClientID ClientID
	// Expiry is the expiration in seconds since the Unix epoch.
	Expiry uint64
	// Signature authenticates the client id and expiry.
	Signature [AuthTokenSignatureBytes]byte
}

// IsExpired checks if the token has expired.
func (t AuthToken) IsExpired() bool {
	return t.TimeUntilExpiry() == 0
}

// TimeUntilExpiry gets the time remaining before the token expires.
func (t AuthToken) TimeUntilExpiry() time.Duration {
	remaining := time.Until(t.ExpirationTime())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ExpirationTime gets the wall-clock time when the token expires.
func (t AuthToken) ExpirationTime() time.Time {
	return time.Unix(int64(t.Expiry), 0)
}

// Bytes returns the binary token: client id, expiry (little-endian), then
// the signature over the preceding 24 bytes.
func (t AuthToken) Bytes() []byte {
	out := make([]byte, authTokenBytes)
	copy(out[:16], t.ClientID[:])
	binary.LittleEndian.PutUint64(out[16:24], t.Expiry)
	copy(out[24:], t.Signature[:])
	return out
}

// Encode returns the token in base64url form for transport convenience.
func (t AuthToken) Encode() string {
	return base64.URLEncoding.EncodeToString(t.Bytes())
}

// AuthTokenFromBytes parses a binary token produced by Bytes.
func AuthTokenFromBytes(data []byte) (AuthToken, error) {
	if len(data) != authTokenBytes {
		return AuthToken{}, fmt.Errorf("%w: %d bytes", ErrTokenMalformed, len(data))
	}
	var t AuthToken
	copy(t.ClientID[:], data[:16])
	t.Expiry = binary.LittleEndian.Uint64(data[16:24])
	copy(t.Signature[:], data[24:])
	return t, nil
}

// ParseAuthToken parses a base64url token produced by Encode.
func ParseAuthToken(s string) (AuthToken, error) {
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return AuthToken{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	return AuthTokenFromBytes(data)
}

func authTokenPayload(id ClientID, expiry uint64) []byte {
	payload := make([]byte, authTokenPayloadBytes)
	copy(payload[:16], id[:])
	binary.LittleEndian.PutUint64(payload[16:], expiry)
	return payload
}

// AuthRequest is the client's authentication material for connecting to a
// server, carried in the first frame of the opening exchange.
type AuthRequest struct {
	Kind     AuthKind
	ClientID ClientID
	Secret   [SecretAuthBytes]byte
	Token    AuthToken
}

// NewNoneAuth makes an unauthenticated request for the given client id.
func NewNoneAuth(id ClientID) AuthRequest {
	return AuthRequest{Kind: AuthKindNone, ClientID: id}
}

// NewSecretAuth makes a shared-secret request for the given client id.
func NewSecretAuth(id ClientID, secret [SecretAuthBytes]byte) AuthRequest {
	return AuthRequest{Kind: AuthKindSecret, ClientID: id, Secret: secret}
}

// NewTokenAuth makes a token request. The client id is taken from the token;
// the client cannot choose it independently.
func NewTokenAuth(token AuthToken) AuthRequest {
	return AuthRequest{Kind: AuthKindToken, ClientID: token.ClientID, Token: token}
}

// Authenticator validates auth requests on the server.
type Authenticator interface {
	// Authenticate reports whether the request is acceptable.
	Authenticate(req AuthRequest) bool
}

// NoneAuthenticator accepts unauthenticated (AuthKindNone) requests and
// rejects every other kind.
type NoneAuthenticator struct{}

func (NoneAuthenticator) Authenticate(req AuthRequest) bool {
	return req.Kind == AuthKindNone
}

// SecretAuthenticator accepts requests carrying the expected shared secret.
// The comparison is constant time.
type SecretAuthenticator struct {
	Secret [SecretAuthBytes]byte
}

func (a SecretAuthenticator) Authenticate(req AuthRequest) bool {
	if req.Kind != AuthKindSecret {
		return false
	}
	return subtle.ConstantTimeCompare(req.Secret[:], a.Secret[:]) == 1
}

// TokenAuthenticator accepts requests carrying a token signed by the matching
// private key and not yet expired.
type TokenAuthenticator struct {
	PubKey ed25519.PublicKey
}

func (a TokenAuthenticator) Authenticate(req AuthRequest) bool {
	if req.Kind != AuthKindToken {
		return false
	}
	_, err := VerifyAuthToken(a.PubKey, req.Token, time.Now())
	return err == nil
}

// GenerateAuthTokenKeys generates a privkey/pubkey pair for creating and
// verifying auth tokens.
//
// The private key is a security-critical secret. Store it only in servers
// that produce tokens; verifying servers need only the public key.
func GenerateAuthTokenKeys() (ed25519.PrivateKey, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate auth token keys: %w", err)
	}
	return priv, pub, nil
}

// MakeAuthTokenFromLifetime makes a token that expires at
// current time + lifetime.
func MakeAuthTokenFromLifetime(privkey ed25519.PrivateKey, lifetimeSecs uint64, id ClientID) AuthToken {
	expiry := uint64(time.Now().Unix()) + lifetimeSecs
	return MakeAuthTokenFromExpiry(privkey, expiry, id)
}

// MakeAuthTokenFromExpiry makes a token from an expiration time in seconds
// since the Unix epoch.
func MakeAuthTokenFromExpiry(privkey ed25519.PrivateKey, expiry uint64, id ClientID) AuthToken {
	sig := ed25519.Sign(privkey, authTokenPayload(id, expiry))
	token := AuthToken{ClientID: id, Expiry: expiry}
	copy(token.Signature[:], sig)
	return token
}

// VerifyAuthToken verifies a token's signature against the public key and its
// expiry against the given time. On success it returns the authenticated
// client id.
func VerifyAuthToken(pubkey ed25519.PublicKey, token AuthToken, now time.Time) (ClientID, error) {
	if !ed25519.Verify(pubkey, authTokenPayload(token.ClientID, token.Expiry), token.Signature[:]) {
		return ClientID{}, ErrTokenSignature
	}
	if now.After(token.ExpirationTime()) {
		return ClientID{}, ErrTokenExpired
	}
	return token.ClientID, nil
}
