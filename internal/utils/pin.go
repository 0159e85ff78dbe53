package utils

import "golang.org/x/crypto/bcrypt" // bcrypt hashing for gift card PINs

// HashPIN hashes a gift card PIN using bcrypt with the default cost.
// Only the hash is stored; the clear PIN is printed on the physical
// card and never persisted.
func HashPIN(pin string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// CheckPIN compares a clear PIN against its stored bcrypt hash and
// returns true when they match.
func CheckPIN(hash, pin string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}
