package session

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creditkit/internal/clock"
	"github.com/smallbiznis/creditkit/internal/config"
	"go.uber.org/fx"
)

const DefaultCookieName = "_sid"

type Params struct {
	fx.In

	Config config.Config
	Clock  clock.Clock `optional:"true"`
}

// Manager reads and writes the opaque session cookie. The cookie only ever
// carries the raw token; the server keeps its hash.
type Manager struct {
	name   string
	path   string
	secure bool
	clock  clock.Clock
}

func NewManager(p Params) *Manager {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Manager{
		name:   DefaultCookieName,
		path:   cookiePath(p.Config.BaseURL),
		secure: p.Config.AuthCookieSecure || strings.HasPrefix(p.Config.BaseURL, "https://"),
		clock:  c,
	}
}

// cookiePath scopes the cookie to the path prefix of APP_BASE_URL so the
// service can sit behind a sub-path proxy.
func cookiePath(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return "/" + strings.Trim(u.Path, "/")
}

func (m *Manager) ReadToken(c *gin.Context) (string, bool) {
	token, err := c.Cookie(m.name)
	if err != nil {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (m *Manager) Set(c *gin.Context, token string, expiresAt time.Time) {
	maxAge := int(expiresAt.Sub(m.clock.Now()) / time.Second)
	m.write(c, token, max(maxAge, 0))
}

func (m *Manager) Clear(c *gin.Context) {
	m.write(c, "", -1)
}

func (m *Manager) write(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(m.name, value, maxAge, m.path, "", m.secure, true)
}
