package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creditkit/internal/clock"
	"github.com/smallbiznis/creditkit/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContext(req *http.Request) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	return c, w
}

func TestManagerRoundTrip(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	m := NewManager(Params{
		Config: config.Config{AuthCookieSecure: true},
		Clock:  clock.NewFakeClock(now),
	})

	c, w := newContext(httptest.NewRequest(http.MethodGet, "/", nil))
	m.Set(c, "raw-token", now.Add(time.Hour))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "_sid", cookies[0].Name)
	assert.Equal(t, 3600, cookies[0].MaxAge)
	assert.Equal(t, "/", cookies[0].Path)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	c2, _ := newContext(req)
	token, ok := m.ReadToken(c2)
	assert.True(t, ok)
	assert.Equal(t, "raw-token", token)
}

func TestManagerReadTokenMissing(t *testing.T) {
	m := NewManager(Params{})
	c, _ := newContext(httptest.NewRequest(http.MethodGet, "/", nil))
	_, ok := m.ReadToken(c)
	assert.False(t, ok)
}

func TestManagerClearExpiresCookie(t *testing.T) {
	m := NewManager(Params{Config: config.Config{BaseURL: "https://example.com/credits/"}})
	c, w := newContext(httptest.NewRequest(http.MethodPost, "/credits/api/auth/logout", nil))
	m.Clear(c)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Empty(t, cookies[0].Value)
	assert.Equal(t, "/credits", cookies[0].Path)
	assert.True(t, cookies[0].Secure)
	assert.Less(t, cookies[0].MaxAge, 0)
}
