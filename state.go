package shopagent

import (
	"encoding/json"
	"time"
)

// AuthStatus is the tri-state login flag of a SessionState.
type AuthStatus int

const (
	// StatusUnknown means no auth state has been observed yet.
	StatusUnknown AuthStatus = iota
	StatusLoggedOut
	StatusLoggedIn
)

func (s AuthStatus) String() string {
	switch s {
	case StatusLoggedOut:
		return "logged_out"
	case StatusLoggedIn:
		return "logged_in"
	}
	return "unknown"
}

// MarshalJSON renders the status as true, false or null.
func (s AuthStatus) MarshalJSON() ([]byte, error) {
	switch s {
	case StatusLoggedIn:
		return []byte("true"), nil
	case StatusLoggedOut:
		return []byte("false"), nil
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts true, false or null.
func (s *AuthStatus) UnmarshalJSON(data []byte) error {
	var flag *bool
	if err := json.Unmarshal(data, &flag); err != nil {
		return err
	}
	switch {
	case flag == nil:
		*s = StatusUnknown
	case *flag:
		*s = StatusLoggedIn
	default:
		*s = StatusLoggedOut
	}
	return nil
}

// SessionState is the single shared record every context derives its view
// from. Identity fields are nil when absent.
type SessionState struct {
	Status        AuthStatus `json:"isLoggedIn"`
	UserID        *string    `json:"userId"`
	DisplayName   *string    `json:"displayName"`
	PhotoURL      *string    `json:"photoURL"`
	Email         *string    `json:"email"`
	EmailVerified *bool      `json:"emailVerified"`
	Version       uint64     `json:"version"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// DefaultSessionState is the record read before anything was written.
func DefaultSessionState() SessionState {
	return SessionState{Status: StatusUnknown}
}

// LoggedOutState is the record written on sign out.
func LoggedOutState() SessionState {
	return SessionState{Status: StatusLoggedOut}
}

// IsLoggedIn reports whether the state holds a signed in identity.
func (s SessionState) IsLoggedIn() bool {
	return s.Status == StatusLoggedIn
}

// IsVerified reports a signed in user with a confirmed email.
func (s SessionState) IsVerified() bool {
	return s.IsLoggedIn() && s.EmailVerified != nil && *s.EmailVerified
}

// Normalize clears identity fields for anything but a logged in state.
func (s SessionState) Normalize() SessionState {
	if s.Status == StatusLoggedIn {
		return s
	}
	s.UserID = nil
	s.DisplayName = nil
	s.PhotoURL = nil
	s.Email = nil
	s.EmailVerified = nil
	return s
}

// Validate enforces that a logged in state names its user.
func (s SessionState) Validate() error {
	if s.Status == StatusLoggedIn && (s.UserID == nil || *s.UserID == "") {
		return ValidationError("logged in session requires a user id", map[string]any{
			"field": "userId",
		})
	}
	return nil
}

// Equal compares the observable fields, ignoring Version and UpdatedAt.
func (s SessionState) Equal(other SessionState) bool {
	return s.Status == other.Status &&
		equalPtr(s.UserID, other.UserID) &&
		equalPtr(s.DisplayName, other.DisplayName) &&
		equalPtr(s.PhotoURL, other.PhotoURL) &&
		equalPtr(s.Email, other.Email) &&
		equalPtr(s.EmailVerified, other.EmailVerified)
}

// Clone returns a deep copy so listeners never share pointers.
func (s SessionState) Clone() SessionState {
	s.UserID = clonePtr(s.UserID)
	s.DisplayName = clonePtr(s.DisplayName)
	s.PhotoURL = clonePtr(s.PhotoURL)
	s.Email = clonePtr(s.Email)
	s.EmailVerified = clonePtr(s.EmailVerified)
	return s
}

// Identity is the normalized user summary produced by the identity provider.
type Identity struct {
	UserID        string `json:"userId"`
	Email         string `json:"email,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
	PhotoURL      string `json:"photoURL,omitempty"`
	EmailVerified bool   `json:"emailVerified"`
}

// StateFromIdentity computes the full record for a provider transition. A
// nil identity yields the logged out record.
func StateFromIdentity(identity *Identity) SessionState {
	if identity == nil {
		return LoggedOutState()
	}
	return SessionState{
		Status:        StatusLoggedIn,
		UserID:        Ptr(identity.UserID),
		DisplayName:   optional(identity.DisplayName),
		PhotoURL:      optional(identity.PhotoURL),
		Email:         optional(identity.Email),
		EmailVerified: Ptr(identity.EmailVerified),
	}
}

// Field is an optional patch value. Set distinguishes "leave as is" from
// "write Value", and a nil Value with Set clears the field.
type Field[T any] struct {
	Value *T
	Set   bool
}

// SetTo returns a field that writes v.
func SetTo[T any](v T) Field[T] {
	return Field[T]{Value: &v, Set: true}
}

// SetPtr returns a field that writes v, clearing when v is nil.
func SetPtr[T any](v *T) Field[T] {
	return Field[T]{Value: clonePtr(v), Set: true}
}

// Clear returns a field that resets the value to nil.
func Clear[T any]() Field[T] {
	return Field[T]{Set: true}
}

// SessionPatch is a partial update. Unset fields keep the stored value.
type SessionPatch struct {
	Status        *AuthStatus
	UserID        Field[string]
	DisplayName   Field[string]
	PhotoURL      Field[string]
	Email         Field[string]
	EmailVerified Field[bool]
}

// FullPatch sets every field of s, so applying it replaces the record.
func FullPatch(s SessionState) SessionPatch {
	status := s.Status
	return SessionPatch{
		Status:        &status,
		UserID:        SetPtr(s.UserID),
		DisplayName:   SetPtr(s.DisplayName),
		PhotoURL:      SetPtr(s.PhotoURL),
		Email:         SetPtr(s.Email),
		EmailVerified: SetPtr(s.EmailVerified),
	}
}

// IsEmpty reports a patch that sets nothing.
func (p SessionPatch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

// Fields lists the json names the patch touches.
func (p SessionPatch) Fields() []string {
	fields := make([]string, 0, 6)
	if p.Status != nil {
		fields = append(fields, "isLoggedIn")
	}
	if p.UserID.Set {
		fields = append(fields, "userId")
	}
	if p.DisplayName.Set {
		fields = append(fields, "displayName")
	}
	if p.PhotoURL.Set {
		fields = append(fields, "photoURL")
	}
	if p.Email.Set {
		fields = append(fields, "email")
	}
	if p.EmailVerified.Set {
		fields = append(fields, "emailVerified")
	}
	return fields
}

// Apply merges the patch into s. Per field, the patch wins.
func (p SessionPatch) Apply(s SessionState) SessionState {
	out := s.Clone()
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.UserID.Set {
		out.UserID = clonePtr(p.UserID.Value)
	}
	if p.DisplayName.Set {
		out.DisplayName = clonePtr(p.DisplayName.Value)
	}
	if p.PhotoURL.Set {
		out.PhotoURL = clonePtr(p.PhotoURL.Value)
	}
	if p.Email.Set {
		out.Email = clonePtr(p.Email.Value)
	}
	if p.EmailVerified.Set {
		out.EmailVerified = clonePtr(p.EmailVerified.Value)
	}
	return out
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Deref returns the pointed value or the zero value.
func Deref[T any](v *T) T {
	if v == nil {
		var zero T
		return zero
	}
	return *v
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
