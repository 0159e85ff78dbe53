package utils // package utils provides helper functions for tokens and hashing

import (
	"crypto/rand" // secure random number generation
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
)

// ClientToken represents a signed JWT issued to a marketplace client
// along with its expiry.  The Token field contains the JWT string.
// Tokens are presented in the Authorization header on every API call
// and carry the client id in the cid claim.
type ClientToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// NewClientToken builds and signs an HS256 JWT for a marketplace
// client.  It takes the signing secret, the client ID, and a TTL in
// minutes.  The JWT includes the client id (cid), expiration (exp)
// and issued at (iat) claims.
func NewClientToken(secret string, clientID uint64, ttlMin int) (ClientToken, error) {
	exp := time.Now().UTC().Add(time.Duration(ttlMin) * time.Minute)
	claims := jwt.MapClaims{
		"cid": clientID,
		"exp": exp.Unix(),
		"iat": time.Now().UTC().Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return ClientToken{}, err
	}
	return ClientToken{Token: signed, Exp: exp}, nil
}

// RandomToken returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.  It is used for hold tokens,
// which are unguessable references handed to the caller at reserve
// time.
func RandomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// charset for human-facing codes.  0/O and 1/I are excluded so codes
// survive being read over the phone.
const codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// RandomCode returns an n-character code from the unambiguous
// alphabet, grouped in blocks of four separated by dashes.  Gift card
// codes and public order codes use this format.
func RandomCode(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, 0, n+n/4)
	for i, b := range buf {
		if i > 0 && i%4 == 0 {
			out = append(out, '-')
		}
		out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
	}
	return string(out), nil
}

// TicketCode returns a random ticket code.  Codes appear on issued
// tickets and are scanned at check-in; the tickets table carries a
// unique index on them.
func TicketCode() (string, error) {
	suffix, err := RandomCode(12)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("TKT-%s", suffix), nil
}
