package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/openharbor/chunkstream/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func performRequest(t *testing.T, required bool, authorization string) (*httptest.ResponseRecorder, *uuid.UUID) {
	gin.SetMode(gin.TestMode)

	var owner *uuid.UUID
	router := gin.New()
	router.Use(Auth(testSecret, required))
	router.GET("/probe", func(c *gin.Context) {
		owner = OwnerFromContext(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder, owner
}

func TestAuth_ValidToken(t *testing.T) {
	ownerID := uuid.New()
	token, err := utils.GenerateJWT(ownerID, testSecret, time.Hour)
	require.NoError(t, err)

	recorder, owner := performRequest(t, false, "Bearer "+token)

	assert.Equal(t, http.StatusOK, recorder.Code)
	require.NotNil(t, owner)
	assert.Equal(t, ownerID, *owner)
}

func TestAuth_InvalidTokenRejected(t *testing.T) {
	recorder, _ := performRequest(t, false, "Bearer not-a-token")
	assert.Equal(t, http.StatusForbidden, recorder.Code)
}

func TestAuth_ExpiredTokenRejected(t *testing.T) {
	token, err := utils.GenerateJWT(uuid.New(), testSecret, -time.Hour)
	require.NoError(t, err)

	recorder, _ := performRequest(t, false, "Bearer "+token)
	assert.Equal(t, http.StatusForbidden, recorder.Code)
}

func TestAuth_AnonymousAllowed(t *testing.T) {
	recorder, owner := performRequest(t, false, "")

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Nil(t, owner)
}

func TestAuth_AnonymousRejectedWhenRequired(t *testing.T) {
	recorder, _ := performRequest(t, true, "")
	assert.Equal(t, http.StatusForbidden, recorder.Code)
}

func TestAuth_WrongSecretRejected(t *testing.T) {
	token, err := utils.GenerateJWT(uuid.New(), "other-secret", time.Hour)
	require.NoError(t, err)

	recorder, _ := performRequest(t, false, "Bearer "+token)
	assert.Equal(t, http.StatusForbidden, recorder.Code)
}
