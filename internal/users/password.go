package users

import "golang.org/x/crypto/bcrypt"

// maxPasswordBytes is the longest input bcrypt accepts. The validator counts runes, so
// multibyte passwords are checked against this separately.
const maxPasswordBytes = 72

// HashPassword produces the bcrypt hash stored for a new account.
func HashPassword(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// passwordMatches treats malformed hashes as a mismatch.
func passwordMatches(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
