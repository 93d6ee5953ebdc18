package users

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/supportspark/internal/storage"
)

// Profile is the public view of an account. It never carries the password hash.
type Profile struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"first_name,omitempty"`
	LastName    string    `json:"last_name,omitempty"`
	DisplayName string    `json:"display_name"`
	IsDemo      bool      `json:"is_demo"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewProfile projects a stored user onto its public view.
func NewProfile(user storage.User) Profile {
	return Profile{
		ID:          user.ID,
		Email:       user.Email,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		DisplayName: user.DisplayName(),
		IsDemo:      IsDemoAccount(user.ID),
		CreatedAt:   user.CreatedAt,
	}
}

// IsDemoAccount reports whether userID is one of the fixed demo accounts.
func IsDemoAccount(userID string) bool {
	return userID == storage.DemoMemberID || userID == storage.DemoSupporterID
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}

func normalizeEmail(value string) string {
	return strings.ToLower(normalize(value))
}
