package shopagent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthStatusJSON(t *testing.T) {
	tests := []struct {
		status AuthStatus
		json   string
	}{
		{StatusUnknown, "null"},
		{StatusLoggedOut, "false"},
		{StatusLoggedIn, "true"},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			raw, err := json.Marshal(tt.status)
			require.NoError(t, err)
			assert.Equal(t, tt.json, string(raw))

			var decoded AuthStatus
			require.NoError(t, json.Unmarshal(raw, &decoded))
			assert.Equal(t, tt.status, decoded)
		})
	}
}

func TestDefaultSessionStateIsUnknown(t *testing.T) {
	state := DefaultSessionState()

	raw, err := json.Marshal(state)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Nil(t, decoded["isLoggedIn"])
	assert.Nil(t, decoded["userId"])
	assert.Nil(t, decoded["emailVerified"])
}

func TestSessionPatchApplyMergesPerField(t *testing.T) {
	base := StateFromIdentity(&Identity{
		UserID:      "u1",
		Email:       "a@example.com",
		DisplayName: "Ann",
	})

	patch := SessionPatch{DisplayName: SetTo("Annie")}
	out := patch.Apply(base)

	assert.Equal(t, "Annie", Deref(out.DisplayName))
	assert.Equal(t, "u1", Deref(out.UserID))
	assert.Equal(t, "a@example.com", Deref(out.Email))
	assert.Equal(t, []string{"displayName"}, patch.Fields())

	cleared := SessionPatch{PhotoURL: Clear[string](), DisplayName: Clear[string]()}.Apply(out)
	assert.Nil(t, cleared.DisplayName)
	assert.Equal(t, "u1", Deref(cleared.UserID))
}

func TestSessionPatchApplyDoesNotAlias(t *testing.T) {
	name := "Ann"
	patch := SessionPatch{DisplayName: SetPtr(&name)}
	out := patch.Apply(DefaultSessionState())

	name = "changed"
	assert.Equal(t, "Ann", Deref(out.DisplayName))
}

func TestNormalizeClearsIdentityWhenLoggedOut(t *testing.T) {
	state := StateFromIdentity(&Identity{UserID: "u1", Email: "a@example.com", EmailVerified: true})
	state.Status = StatusLoggedOut

	normalized := state.Normalize()
	assert.Nil(t, normalized.UserID)
	assert.Nil(t, normalized.Email)
	assert.Nil(t, normalized.EmailVerified)
	assert.Nil(t, normalized.DisplayName)
	assert.Nil(t, normalized.PhotoURL)
}

func TestValidateRequiresUserIDWhenLoggedIn(t *testing.T) {
	state := SessionState{Status: StatusLoggedIn}
	err := state.Validate()
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))

	state.UserID = Ptr("u1")
	assert.NoError(t, state.Validate())
}

func TestStateFromIdentity(t *testing.T) {
	t.Run("nil identity is logged out", func(t *testing.T) {
		state := StateFromIdentity(nil)
		assert.Equal(t, StatusLoggedOut, state.Status)
		assert.True(t, state.Equal(LoggedOutState()))
	})

	t.Run("identity maps every field", func(t *testing.T) {
		state := StateFromIdentity(&Identity{
			UserID:        "u1",
			Email:         "a@example.com",
			DisplayName:   "Ann",
			PhotoURL:      "https://example.com/a.png",
			EmailVerified: false,
		})
		assert.True(t, state.IsLoggedIn())
		assert.False(t, state.IsVerified())
		assert.Equal(t, "https://example.com/a.png", Deref(state.PhotoURL))
		require.NotNil(t, state.EmailVerified)
		assert.False(t, *state.EmailVerified)
	})
}

func TestFullPatchReplacesRecord(t *testing.T) {
	current := StateFromIdentity(&Identity{UserID: "u1", Email: "a@example.com", DisplayName: "Ann"})
	next := StateFromIdentity(&Identity{UserID: "u2", Email: "b@example.com"})

	out := FullPatch(next).Apply(current)
	assert.True(t, out.Equal(next))
	assert.Nil(t, out.DisplayName)
}
