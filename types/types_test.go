package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserNullableFields(t *testing.T) {
	var u User
	raw := `{"id":"1","username":"alice","discriminator":"0","global_name":null,"pronouns":null,"avatar":"a1","banner":null}`
	require.NoError(t, json.Unmarshal([]byte(raw), &u))

	assert.Equal(t, "1", u.ID)
	assert.Empty(t, u.GlobalName)
	assert.Equal(t, "a1", u.Avatar)
	assert.Equal(t, "alice", u.DisplayName())
}

func TestUserTag(t *testing.T) {
	assert.Equal(t, "alice", User{Username: "alice", Discriminator: "0"}.Tag())
	assert.Equal(t, "bob#1234", User{Username: "bob", Discriminator: "1234"}.Tag())
	assert.Equal(t, "Bobby", User{Username: "bob", GlobalName: "Bobby"}.DisplayName())
}
