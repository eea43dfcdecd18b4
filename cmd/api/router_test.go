package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	authdomain "dmsync-backend/internal/auth/domain"
	authUsecase "dmsync-backend/internal/auth/usecase"
	"dmsync-backend/internal/messaging/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(r *gin.Engine, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthAndCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewHandler(nil, nil, nil, scheduler.NewSettings(50)).Router()

	w := serve(r, http.MethodGet, "/api/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(r, http.MethodOptions, "/api/health", "", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestSchedulerSettings(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := authUsecase.NewAuthUsecase("secret")
	settings := scheduler.NewSettings(50)
	r := NewHandler(auth, nil, nil, settings).Router()

	admin, err := auth.GenerateToken("ops", "", authdomain.ScopeAdmin, time.Hour)
	require.NoError(t, err)
	account, err := auth.GenerateToken("worker", "acc", "", time.Hour)
	require.NoError(t, err)

	w := serve(r, http.MethodGet, "/api/settings/scheduler", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(r, http.MethodGet, "/api/settings/scheduler", "", account)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(r, http.MethodGet, "/api/settings/scheduler", "", admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"sync_enabled":true,"backfill_enabled":true,"backfill_batch_size":50}`, w.Body.String())

	w = serve(r, http.MethodPut, "/api/settings/scheduler", `{"sync_enabled":false}`, admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"sync_enabled":false,"backfill_enabled":true,"backfill_batch_size":50}`, w.Body.String())
	assert.False(t, settings.Snapshot().SyncEnabled)

	w = serve(r, http.MethodPut, "/api/settings/scheduler", `{"backfill_batch_size":-3}`, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
