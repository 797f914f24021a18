package utils

import (
	"regexp"
	"strings"
)

// regex to test whether the first character is a '/'
var hasLeadingSlash = regexp.MustCompile("^/")

// regex to test whether the last character is a '/'
var hasTrailingSlash = regexp.MustCompile("/$")

// EnsureLeadingSlash adds a leading slash if needed. Provider commands only
// accept absolute paths.
func EnsureLeadingSlash(path string) string {
	if hasLeadingSlash.MatchString(path) {
		return path
	}
	return "/" + path
}

// EnsureTrailingSlash adds a trailing slash if needed.
func EnsureTrailingSlash(path string) string {
	if hasTrailingSlash.MatchString(path) {
		return path
	}
	return path + "/"
}

// RemoveTrailingSlash removes trailing slash, if any
func RemoveTrailingSlash(path string) string {
	return strings.TrimRight(path, "/")
}

// RemoveLeadingSlash removes leading slash, if any
func RemoveLeadingSlash(path string) string {
	return strings.TrimLeft(path, "/")
}

// Normalize coerces a path to the form the provider expects: a single
// leading separator, no trailing separator. The root is the lone separator.
func Normalize(path string) string {
	p := RemoveTrailingSlash(EnsureLeadingSlash(path))
	if p == "" {
		return "/"
	}
	return p
}

// IsRoot reports whether path identifies the root of the remote tree. Both
// the empty string and a lone separator do.
func IsRoot(path string) bool {
	return path == "" || path == "/"
}

// Parent returns the normalized parent of path. The parent of the root is
// the root.
func Parent(path string) string {
	p := Normalize(path)
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}

// Base returns the last path component of path, or "" for the root.
func Base(path string) string {
	p := Normalize(path)
	if p == "/" {
		return ""
	}
	return p[strings.LastIndex(p, "/")+1:]
}
