package oidcflow

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func TestEvaluateClaimPath_RolesArray(t *testing.T) {
	claims := jwt.MapClaims{"roles": []interface{}{"admin", "engineer"}}
	isAdmin, isUser, values := evaluateClaimPath(claims, "roles", "admin", "user")
	assert.True(t, isAdmin)
	assert.False(t, isUser)
	assert.ElementsMatch(t, []string{"admin", "engineer"}, values)
}

func TestEvaluateClaimPath_GroupsSpaceDelimited(t *testing.T) {
	claims := jwt.MapClaims{"groups": "user ops"}
	isAdmin, isUser, values := evaluateClaimPath(claims, "groups", "admin", "user")
	assert.False(t, isAdmin)
	assert.True(t, isUser)
	assert.ElementsMatch(t, []string{"user", "ops"}, values)
}

func TestEvaluateClaimPath_MissingClaim(t *testing.T) {
	isAdmin, isUser, values := evaluateClaimPath(jwt.MapClaims{}, "roles", "admin", "user")
	assert.False(t, isAdmin)
	assert.False(t, isUser)
	assert.Nil(t, values)
}

func TestAudienceContains(t *testing.T) {
	assert.True(t, audienceContains("client-a", "client-a"))
	assert.False(t, audienceContains("client-a", "client-b"))
	assert.True(t, audienceContains([]interface{}{"client-a", "client-b"}, "client-b"))
	assert.False(t, audienceContains([]interface{}{"client-a"}, "client-b"))
}

func TestSigSegment(t *testing.T) {
	assert.Equal(t, "sig", sigSegment("header.payload.sig"))
	assert.Equal(t, "not-a-jwt", sigSegment("not-a-jwt"))
}
