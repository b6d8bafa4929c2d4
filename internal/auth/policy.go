package auth

import "strings"

// Policy is the access level a route demands.
type Policy int

const (
	// Public routes skip authentication entirely.
	Public Policy = iota
	// RequiresAuth routes demand a valid bearer token.
	RequiresAuth
	// RequiresAdmin routes additionally demand the admin predicate.
	RequiresAdmin
)

// RoutePolicy binds a method and path pattern to a policy. An empty method
// matches any method. Pattern segments support a `*` wildcard matching exactly
// one segment.
type RoutePolicy struct {
	Method  string
	Pattern string
	Policy  Policy
}

// PolicyTable resolves a request to a policy. Entries are ordered most
// specific first; the first match wins. Unlisted paths default to
// RequiresAuth, so forgetting an entry fails closed.
type PolicyTable struct {
	entries []RoutePolicy
}

// NewPolicyTable builds a table from ordered entries.
func NewPolicyTable(entries []RoutePolicy) *PolicyTable {
	return &PolicyTable{entries: entries}
}

// DefaultPolicies is the route policy table for the API surface. Everything
// not listed here requires authentication.
func DefaultPolicies() []RoutePolicy {
	return []RoutePolicy{
		{Method: "POST", Pattern: "/auth/login", Policy: Public},
		{Method: "POST", Pattern: "/auth/logout", Policy: Public},
		{Method: "GET", Pattern: "/auth/verify", Policy: Public},
		{Method: "POST", Pattern: "/auth/refresh", Policy: Public},
		{Method: "GET", Pattern: "/healthz", Policy: Public},
		{Pattern: "/usuarios", Policy: RequiresAdmin},
		{Pattern: "/usuarios/*", Policy: RequiresAdmin},
		{Pattern: "/roles", Policy: RequiresAdmin},
		{Pattern: "/roles/*", Policy: RequiresAdmin},
	}
}

// Resolve returns the policy for a method and path.
func (t *PolicyTable) Resolve(method, path string) Policy {
	for _, e := range t.entries {
		if e.Method != "" && e.Method != method {
			continue
		}
		if matchPattern(e.Pattern, path) {
			return e.Policy
		}
	}
	return RequiresAuth
}

// matchPattern compares path against pattern segment by segment. `*` matches
// exactly one segment; segment counts must agree.
func matchPattern(pattern, path string) bool {
	ps := strings.Split(strings.Trim(pattern, "/"), "/")
	ts := strings.Split(strings.Trim(path, "/"), "/")
	if len(ps) != len(ts) {
		return false
	}
	for i := range ps {
		if ps[i] != "*" && ps[i] != ts[i] {
			return false
		}
	}
	return true
}
