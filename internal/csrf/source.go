// Package csrf reads the anti-forgery token attached to mutating requests.
// Tokens are read fresh on every call; the cookie may rotate between requests.
package csrf

import (
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"golang.org/x/net/html"
)

const (
	// DefaultCookieName is the cookie the server uses to publish the token.
	DefaultCookieName = "csrf_token"
	// DefaultHeaderName is the request header the token is sent in.
	DefaultHeaderName = "X-CSRFToken"
	// DefaultMetaName is the page-level metadata tag carrying the token.
	DefaultMetaName = "csrf-token"
)

// Source yields the current token, or "" when none is available.
type Source interface {
	Token() string
}

// SourceFunc adapts a function to Source.
type SourceFunc func() string

// Token implements Source.
func (f SourceFunc) Token() string { return f() }

// CookieSource reads the token from a cookie jar for a fixed URL.
type CookieSource struct {
	jar  http.CookieJar
	url  *url.URL
	name string
}

// NewCookieSource creates a source reading cookie name for u from jar.
func NewCookieSource(jar http.CookieJar, u *url.URL, name string) *CookieSource {
	if name == "" {
		name = DefaultCookieName
	}
	return &CookieSource{jar: jar, url: u, name: name}
}

// Token implements Source.
func (s *CookieSource) Token() string {
	if s == nil || s.jar == nil || s.url == nil {
		return ""
	}
	for _, c := range s.jar.Cookies(s.url) {
		if c.Name == s.name {
			return strings.TrimSpace(c.Value)
		}
	}
	return ""
}

// MetaSource holds the token published through page metadata or fetched by
// the bootstrap call. It is safe for concurrent use.
type MetaSource struct {
	name  string
	token atomic.Value
}

// NewMetaSource creates an empty metadata source for the tag name.
func NewMetaSource(name string) *MetaSource {
	if name == "" {
		name = DefaultMetaName
	}
	m := &MetaSource{name: name}
	m.token.Store("")
	return m
}

// Token implements Source.
func (m *MetaSource) Token() string {
	if m == nil {
		return ""
	}
	v, _ := m.token.Load().(string)
	return v
}

// Set replaces the stored token.
func (m *MetaSource) Set(token string) {
	m.token.Store(strings.TrimSpace(token))
}

// LoadHTML scans an HTML document for <meta name="csrf-token" content="...">
// and stores its content. It reports whether a tag was found.
func (m *MetaSource) LoadHTML(r io.Reader) (bool, error) {
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return false, err
			}
			return false, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "meta" {
				continue
			}
			var name, content string
			for _, a := range tok.Attr {
				switch strings.ToLower(a.Key) {
				case "name":
					name = a.Val
				case "content":
					content = a.Val
				}
			}
			if strings.EqualFold(name, m.name) {
				m.Set(content)
				return true, nil
			}
		}
	}
}

// Chain returns a source yielding the first non-empty token of sources, in
// priority order.
func Chain(sources ...Source) Source {
	return SourceFunc(func() string {
		for _, s := range sources {
			if s == nil {
				continue
			}
			if t := s.Token(); t != "" {
				return t
			}
		}
		return ""
	})
}
