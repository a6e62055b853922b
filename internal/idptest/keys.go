package idptest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/golang-jwt/jwt/v5"
)

const signingAlg = "RS256"

// jwk is the public half of the signing key as published on the JWKS endpoint.
type jwk struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// signer issues every ID and access token the fake issuer hands out. Tokens carry its
// kid so a verifier can find the key in the JWKS.
type signer struct {
	kid string
	key *rsa.PrivateKey
}

func newSigner(kid string) (*signer, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate RSA key: %w", err)
	}
	return &signer{kid: kid, key: key}, nil
}

func (s *signer) sign(claims jwt.MapClaims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.kid

	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", signingAlg, err)
	}
	return signed, nil
}

func (s *signer) jwks() map[string][]jwk {
	pub := s.key.PublicKey
	return map[string][]jwk{
		"keys": {{
			Kty: "RSA",
			Use: "sig",
			Kid: s.kid,
			Alg: signingAlg,
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
}
