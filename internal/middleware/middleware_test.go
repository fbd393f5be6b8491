package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weibaohui/pleroma/backend/internal/pkg/metrics"
)

const testSecret = "test-secret"

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", Auth(testSecret), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})
	return r
}

func doGet(r http.Handler, path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthAcceptsValidToken(t *testing.T) {
	token, err := IssueToken(testSecret, "u1", time.Hour)
	require.NoError(t, err)

	w := doGet(newAuthRouter(), "/whoami", "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", w.Body.String())
}

func TestAuthRejects(t *testing.T) {
	wrongSecret, err := IssueToken("other-secret", "u1", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(testSecret, "u1", -time.Minute)
	require.NoError(t, err)
	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"empty bearer", "Bearer "},
		{"garbage", "Bearer not-a-jwt"},
		{"wrong secret", "Bearer " + wrongSecret},
		{"expired", "Bearer " + expired},
		{"none algorithm", "Bearer " + noneAlg},
	}
	r := newAuthRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doGet(r, "/whoami", tt.header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.JSONEq(t, `{"error":"Unauthorized"}`, w.Body.String())
		})
	}
}

func TestIssueTokenRequiresSubject(t *testing.T) {
	_, err := IssueToken(testSecret, "", time.Hour)
	assert.ErrorIs(t, err, ErrMissingSubject)
}

func TestMetricsRecordsRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := metrics.NewMetrics()
	r := gin.New()
	r.Use(Metrics(m))
	r.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	counter := m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/items/:id", "204")
	before := testutil.ToFloat64(counter)

	doGet(r, "/items/42", "")
	doGet(r, "/items/43", "")

	assert.Equal(t, before+2, testutil.ToFloat64(counter))
}
