package authapi

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-budget-auth"
)

// CookieOptions defines how the session cookie is issued
type CookieOptions struct {
	Name   string
	Path   string
	Domain string
	MaxAge time.Duration
}

// secure reports whether the domain is a deployed one. Local domains get
// neither Secure nor Domain.
func (o CookieOptions) secure() bool {
	return o.Domain != "" && !strings.Contains(o.Domain, "localhost")
}

func (o CookieOptions) normalize() CookieOptions {
	if o.Name == "" {
		o.Name = auth.SessionCookieName
	}
	if o.Path == "" {
		o.Path = "/"
	}
	if o.MaxAge <= 0 {
		o.MaxAge = auth.SessionCookieMaxAge
	}
	return o
}

func (o CookieOptions) cookie(value string, expires time.Time) *fiber.Cookie {
	cookie := &fiber.Cookie{
		Name:     o.Name,
		Value:    value,
		Path:     o.Path,
		Expires:  expires,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	}

	if o.secure() {
		cookie.Secure = true
		cookie.Domain = o.Domain
	}

	return cookie
}

// setSessionCookie stores the session tokens on the response
func (o CookieOptions) setSessionCookie(c *fiber.Ctx, session auth.AuthSession, now time.Time) error {
	value, err := auth.EncodeSessionCookie(auth.TokensFromSession(session))
	if err != nil {
		return err
	}

	cookie := o.cookie(value, now.Add(o.MaxAge))
	cookie.MaxAge = int(o.MaxAge / time.Second)
	c.Cookie(cookie)
	return nil
}

// clearSessionCookie expires the session cookie
func (o CookieOptions) clearSessionCookie(c *fiber.Ctx) {
	c.Cookie(o.cookie("", time.Unix(0, 0).UTC()))
}

// sessionTokens reads the session cookie, false when missing or unreadable
func (o CookieOptions) sessionTokens(c *fiber.Ctx) (auth.SessionTokens, bool) {
	tokens, err := auth.DecodeSessionCookie(c.Cookies(o.Name))
	if err != nil {
		return auth.SessionTokens{}, false
	}
	return tokens, true
}
