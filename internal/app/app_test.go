package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/digital-library/internal/config"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("USE_MEMORY_STORE", "true")
	t.Setenv("UPLOAD_DIR", t.TempDir())
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("ACTIVITY_BACKEND", "")
	t.Setenv("ADMIN_REGISTRATION_CODE", "")
	cfg, err := config.LoadFromEnv()
	require.NoError(t, err)
	return cfg
}

func TestNew_MemoryStoreServesAPI(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	rec := httptest.NewRecorder()
	a.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/library", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestEnsureAdminThroughApp(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	user, created, err := a.Auth().EnsureAdmin(context.Background(), "root@example.com", "root", "s3cret!")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, user.IsAdmin)
}

func TestNewLogger(t *testing.T) {
	cfg := &config.Config{AppEnv: "production", LogLevel: "warn"}
	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
	assert.True(t, logger.Core().Enabled(zap.WarnLevel))

	_, err = NewLogger(&config.Config{AppEnv: "production", LogLevel: "loud"})
	assert.Error(t, err)
}
