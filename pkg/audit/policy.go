package audit

import (
	"net/http"
	"path"
)

// ExclusionPolicy decides which exceptions are not recorded
type ExclusionPolicy struct {
	ResponseCodes []int
	// Paths match exactly or as path.Match patterns
	Paths  []string
	Routes []string
}

// DefaultExclusionPolicy excludes 404 responses
func DefaultExclusionPolicy() ExclusionPolicy {
	return ExclusionPolicy{ResponseCodes: []int{http.StatusNotFound}}
}

func (p ExclusionPolicy) ExcludesStatus(code int) bool {
	for _, c := range p.ResponseCodes {
		if c == code {
			return true
		}
	}
	return false
}

func (p ExclusionPolicy) ExcludesPath(url string) bool {
	if url == "" {
		return false
	}
	for _, pattern := range p.Paths {
		if pattern == url {
			return true
		}
		if ok, err := path.Match(pattern, url); err == nil && ok {
			return true
		}
	}
	return false
}

func (p ExclusionPolicy) ExcludesRoute(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range p.Routes {
		if r == name {
			return true
		}
	}
	return false
}
