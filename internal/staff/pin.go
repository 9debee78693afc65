package staff

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidPIN is returned for kiosk PINs that are not 4 to 6 digits.
var ErrInvalidPIN = errors.New("kiosk PIN must be 4 to 6 digits")

// ValidatePIN checks the kiosk PIN format.
func ValidatePIN(pin string) error {
	if len(pin) < 4 || len(pin) > 6 {
		return ErrInvalidPIN
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			return ErrInvalidPIN
		}
	}
	return nil
}

// HashPIN validates and bcrypt hashes a kiosk PIN.
func HashPIN(pin string) (string, error) {
	if err := ValidatePIN(pin); err != nil {
		return "", err
	}
	b, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckPIN reports whether pin matches the bcrypt hash.
func CheckPIN(hash, pin string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}
