package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-secret-key-12345"
	testIssuer = "test-issuer"
)

func TestGenerateAndValidate(t *testing.T) {
	userID := uuid.New()

	tokenString, err := GenerateToken(testSecret, testIssuer, userID, RoleCurator, 24)
	require.NoError(t, err)
	assert.NotEmpty(t, tokenString)

	claims, err := ValidateToken(tokenString, testSecret)
	require.NoError(t, err)

	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, RoleCurator, claims.Role)
	assert.Equal(t, testIssuer, claims.Issuer)
	assert.Equal(t, userID.String(), claims.Subject, "Subject should be user ID")
	assert.NotNil(t, claims.ExpiresAt)
	assert.NotNil(t, claims.IssuedAt)
	assert.NotEmpty(t, claims.ID)
}

func TestGenerateToken_MultipleCallsCreateDifferentIDs(t *testing.T) {
	userID := uuid.New()

	token1, err := GenerateToken(testSecret, testIssuer, userID, RoleUser, 24)
	require.NoError(t, err)
	token2, err := GenerateToken(testSecret, testIssuer, userID, RoleUser, 24)
	require.NoError(t, err)

	claims1, err := ValidateToken(token1, testSecret)
	require.NoError(t, err)
	claims2, err := ValidateToken(token2, testSecret)
	require.NoError(t, err)

	assert.NotEqual(t, claims1.ID, claims2.ID, "Each token should have a unique ID")
}

func TestValidateToken_ExpiredToken(t *testing.T) {
	tokenString, err := GenerateToken(testSecret, testIssuer, uuid.New(), RoleUser, -1)
	require.NoError(t, err)

	claims, err := ValidateToken(tokenString, testSecret)
	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	tokenString, err := GenerateToken(testSecret, testIssuer, uuid.New(), RoleAdmin, 24)
	require.NoError(t, err)

	claims, err := ValidateToken(tokenString, "a-different-secret")
	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestValidateToken_TamperedToken(t *testing.T) {
	tokenString, err := GenerateToken(testSecret, testIssuer, uuid.New(), RoleUser, 24)
	require.NoError(t, err)

	parts := strings.Split(tokenString, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	_, err = ValidateToken(tampered, testSecret)
	assert.Error(t, err)
}

func TestValidateToken_MissingUserID(t *testing.T) {
	claims := Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = ValidateToken(signed, testSecret)
	assert.Error(t, err, "a token without a user is not an identity")
}

func TestValidateToken_SigningMethodValidation(t *testing.T) {
	claims := Claims{
		UserID: uuid.New(),
		Role:   RoleUser,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ValidateToken(unsigned, testSecret)
	assert.Error(t, err, "alg=none must be rejected")
}
