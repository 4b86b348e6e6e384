package deliver

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"math/big"

	"github.com/linehouse/linehouse/lineerror"
)

// AuthKey is the TCP signing credential: a key id the server uses to look up
// the public key, plus a P-256 private scalar. The scalar is kept in an
// unexported field so that it cannot end up in logs or error messages through
// formatting.
type AuthKey struct {
	KeyID string

	key *ecdsa.PrivateKey
}

// ParseAuthKey builds an AuthKey from the key id and the base64url-encoded
// private scalar ("d" in JWK terms).
func ParseAuthKey(keyID, token string) (*AuthKey, error) {
	if keyID == "" {
		return nil, lineerror.NewCustom(lineerror.CodeBadKey, "Bad signing key", "empty key id")
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, lineerror.NewCustom(lineerror.CodeBadKey, "Bad signing key", "private key is not base64url")
	}

	curve := elliptic.P256()
	d := new(big.Int).SetBytes(raw)
	if d.Sign() <= 0 || d.Cmp(curve.Params().N) >= 0 {
		return nil, lineerror.NewCustom(lineerror.CodeBadKey, "Bad signing key", "private key is out of curve range")
	}

	key := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve},
		D:         d,
	}
	key.X, key.Y = curve.ScalarBaseMult(raw)

	return &AuthKey{KeyID: keyID, key: key}, nil
}

// PublicKey returns the corresponding public key. Used by tests to verify
// produced signatures.
func (k *AuthKey) PublicKey() *ecdsa.PublicKey {
	return &k.key.PublicKey
}

// SignChallenge signs exactly the challenge bytes and returns the signature
// in the wire form: standard base64 of the ASN.1-encoded signature, without
// the trailing newline.
func (k *AuthKey) SignChallenge(challenge []byte) (string, error) {
	hash := sha256.Sum256(challenge)
	sig, err := ecdsa.SignASN1(rand.Reader, k.key, hash[:])
	if err != nil {
		return "", lineerror.NewCustom(lineerror.CodeBadKey, "Could not sign challenge", err.Error())
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// BasicAuthHeader formats an HTTP basic Authorization header value.
func BasicAuthHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

// BearerAuthHeader formats a token Authorization header value.
func BearerAuthHeader(token string) string {
	return "Bearer " + token
}
