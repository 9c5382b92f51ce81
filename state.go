package auth

import (
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// AuthState is the single authoritative record owned by the Manager. Values
// handed to callers and listeners are always snapshots produced by clone();
// nobody outside the manager ever sees the live record.
type AuthState struct {
	// IsAuthenticated is true iff a primary token was accepted, or a
	// secondary-source identity is present with no primary token required.
	IsAuthenticated bool
	// IsLoading is true while any mutating operation is in flight.
	IsLoading bool
	// IsInitialized flips to true once the startup restore sequence has run
	// to completion, successfully or not. UIs use it to distinguish "needs
	// auth" from "still checking".
	IsInitialized bool

	User         *UserRecord
	Token        string
	RefreshToken string
	// ExpiresAt is the access token expiry instant when the backend reported
	// one, nil otherwise.
	ExpiresAt *time.Time

	// Error holds the last mutating operation's failure, cleared at the start
	// of the next attempt. Initialization failures never land here.
	Error *goerrors.Error

	// The secondary source is an independent axis: primary logout leaves
	// these untouched and secondary logout leaves the token untouched.
	SecondaryAuthenticated bool
	SecondaryUserID        string
}

func (s AuthState) clone() AuthState {
	out := s
	out.User = s.User.Clone()
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		out.ExpiresAt = &t
	}
	return out
}

// mergeSecondaryFields layers display-only fields from the secondary source
// onto a user record. A field is only overwritten when the incoming value is
// set; identity fields established by the primary source are never touched.
func mergeSecondaryFields(user *UserRecord, identity SecondaryIdentity) {
	if user.ID == "" {
		user.ID = identity.UserID
	}
	if identity.DisplayName != "" {
		user.DisplayName = identity.DisplayName
	}
	if identity.AvatarURL != "" {
		user.AvatarURL = identity.AvatarURL
	}
	if len(identity.Roles) > 0 {
		user.Roles = append([]string(nil), identity.Roles...)
	}
}
