package handler

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proplio/be-fm-engine/internal/errors"
	"github.com/proplio/be-fm-engine/internal/logger"
)

func handlerWithLogBuffer() (*HTTPHandler, *bytes.Buffer) {
	var buf bytes.Buffer
	log := &logger.Logger{Logger: zerolog.New(&buf)}
	return &HTTPHandler{log: log}, &buf
}

func TestCallerScopesToOrganizationHeader(t *testing.T) {
	h, buf := handlerWithLogBuffer()

	r := httptest.NewRequest("GET", "/api/v1/work-orders", nil)
	r.Header.Set("X-Actor-Id", "u1")
	r.Header.Set("X-Actor-Role", "MANAGEMENT")
	r.Header.Set("X-Org-Id", "org-1")

	cc, err := h.caller(r)
	require.NoError(t, err)
	assert.Equal(t, "org-1", cc.scope.OrganizationID())
	assert.False(t, cc.scope.IsGlobal())
	assert.Empty(t, buf.String())
}

func TestCallerGlobalScopeIsLogged(t *testing.T) {
	h, buf := handlerWithLogBuffer()

	r := httptest.NewRequest("POST", "/api/v1/approvals/decide", nil)
	r.Header.Set("X-Actor-Id", "root")
	r.Header.Set("X-Actor-Role", "SUPER_ADMIN")
	r.Header.Set("X-Request-Id", "req-77")

	cc, err := h.caller(r)
	require.NoError(t, err)
	assert.True(t, cc.scope.IsGlobal())

	logged := buf.String()
	assert.Contains(t, logged, "Cross-organization scope granted to super admin")
	assert.Contains(t, logged, `"actor_id":"root"`)
	assert.Contains(t, logged, `"path":"/api/v1/approvals/decide"`)
	assert.Contains(t, logged, `"request_id":"req-77"`)
}

func TestCallerRejectsMissingOrgForRegularRoles(t *testing.T) {
	h, buf := handlerWithLogBuffer()

	r := httptest.NewRequest("GET", "/api/v1/work-orders", nil)
	r.Header.Set("X-Actor-Id", "u1")
	r.Header.Set("X-Actor-Role", "MANAGEMENT")

	_, err := h.caller(r)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnauthorized, errors.Code(err))
	assert.Empty(t, buf.String())
}
