package guard

import (
	"sort"
	"strings"

	"github.com/blueberrycongee/reqlayer/internal/config"
)

// Route is a navigable view.
type Route struct {
	Path         string
	Title        string
	RequiresAuth bool
	Permissions  []string
	Meta         map[string]string
}

// RoutesFromConfig converts the routes section of a config file.
func RoutesFromConfig(rc []config.RouteConfig) []Route {
	routes := make([]Route, 0, len(rc))
	for _, r := range rc {
		routes = append(routes, Route{
			Path:         r.Path,
			Title:        r.Title,
			RequiresAuth: r.RequiresAuth,
			Permissions:  r.Permissions,
			Meta:         r.Meta,
		})
	}
	return routes
}

type compiledRoute struct {
	route    Route
	segments []string
	wildcard bool
	literals int
}

// table matches paths against routes. Segments starting with ':' bind a
// parameter; a trailing '*' matches any remainder. When several routes
// match, the one with more literal segments wins, then the one without a
// wildcard.
type table struct {
	routes []compiledRoute
}

func newTable(routes []Route) *table {
	t := &table{routes: make([]compiledRoute, 0, len(routes))}
	for _, r := range routes {
		segs := splitPath(r.Path)
		c := compiledRoute{route: r}
		if n := len(segs); n > 0 && segs[n-1] == "*" {
			c.wildcard = true
			segs = segs[:n-1]
		}
		for _, s := range segs {
			if !strings.HasPrefix(s, ":") {
				c.literals++
			}
		}
		c.segments = segs
		t.routes = append(t.routes, c)
	}
	sort.SliceStable(t.routes, func(i, j int) bool {
		a, b := t.routes[i], t.routes[j]
		if a.literals != b.literals {
			return a.literals > b.literals
		}
		if a.wildcard != b.wildcard {
			return !a.wildcard
		}
		return len(a.segments) > len(b.segments)
	})
	return t
}

func (t *table) match(path string) (*Route, map[string]string, bool) {
	segs := splitPath(path)
	for i := range t.routes {
		c := &t.routes[i]
		if params, ok := c.match(segs); ok {
			r := c.route
			return &r, params, true
		}
	}
	return nil, nil, false
}

func (c *compiledRoute) match(segs []string) (map[string]string, bool) {
	if len(segs) < len(c.segments) || (!c.wildcard && len(segs) != len(c.segments)) {
		return nil, false
	}
	var params map[string]string
	for i, s := range c.segments {
		if strings.HasPrefix(s, ":") {
			if params == nil {
				params = make(map[string]string)
			}
			params[s[1:]] = segs[i]
			continue
		}
		if s != segs[i] {
			return nil, false
		}
	}
	return params, true
}

func splitPath(path string) []string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
