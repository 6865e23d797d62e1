package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type guest struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Notes string `json:"notes,omitempty" validate:"max=5"`
}

type createRequest struct {
	PropertyID string `json:"propertyId" validate:"required"`
	Guest      guest  `json:"guest"`
}

func TestStruct_Valid(t *testing.T) {
	req := createRequest{PropertyID: "p1", Guest: guest{Name: "Ana", Email: "ana@example.com"}}
	assert.Nil(t, Struct(&req))
}

func TestStruct_CollectsEveryIssue(t *testing.T) {
	req := createRequest{Guest: guest{Email: "not-an-email", Notes: "too long"}}

	issues := Struct(&req)
	require.Len(t, issues, 4)

	byField := map[string]string{}
	for _, i := range issues {
		byField[i.Field] = i.Message
	}
	assert.Equal(t, "is required", byField["propertyId"])
	assert.Equal(t, "is required", byField["guest.name"])
	assert.Equal(t, "must be a valid email address", byField["guest.email"])
	assert.Equal(t, "must be at most 5 characters", byField["guest.notes"])
}

func TestPhone(t *testing.T) {
	e164, err := Phone("+1 506 234 5678", "CA")
	require.NoError(t, err)
	assert.Equal(t, "+15062345678", e164)

	e164, err = Phone("(506) 234-5678", "ca")
	require.NoError(t, err)
	assert.Equal(t, "+15062345678", e164)

	_, err = Phone("", "CA")
	assert.EqualError(t, err, "is required")

	_, err = Phone("12", "CA")
	assert.Error(t, err)

	_, err = Phone("call me maybe", "CA")
	assert.Error(t, err)
}
