package users

import "time"

// Gender values accepted on user records.
const (
	GenderMale   = "male"
	GenderFemale = "female"
)

// ProviderKakao marks accounts created through Kakao login.
const ProviderKakao = "kakao"

// User is a document owner. Its ID is the JWT subject and documents.owner_id.
type User struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email,omitempty"`
	Birthdate  string    `json:"birthdate,omitempty"`
	Gender     string    `json:"gender,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	ProviderID string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Identity is what an OAuth provider tells us about a user.
type Identity struct {
	Provider   string
	ProviderID string
	Username   string
	Email      string
	Birthdate  string
	Gender     string
}
