package client

import (
	"net/url"
	"strings"
)

func downloadPath(sessionID string, kind ArtifactKind) string {
	return "/api/sessions/" + url.PathEscape(sessionID) + "/download/" + string(kind)
}

// DownloadURL returns the download link for a final or subtitled video. It is
// a pure function of its inputs and the base URL; the artifact may not exist.
func (c *HTTPClient) DownloadURL(sessionID string, kind ArtifactKind) string {
	return c.baseURL + downloadPath(sessionID, kind)
}

// ArtifactPath is the server path of a per-session artifact such as
// "segment1/image_1.png". Each path element is escaped on its own.
func ArtifactPath(sessionID, relpath string) string {
	parts := strings.Split(strings.TrimLeft(relpath, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return "/api/sessions/" + url.PathEscape(sessionID) + "/artifact/" + strings.Join(parts, "/")
}

// ArtifactURL returns the link for a per-session artifact.
func (c *HTTPClient) ArtifactURL(sessionID, relpath string) string {
	return c.baseURL + ArtifactPath(sessionID, relpath)
}

// AbsoluteURL resolves an artifact URL from a status snapshot against the
// base URL. URLs that already carry a scheme are returned unchanged.
func (c *HTTPClient) AbsoluteURL(u string) string {
	return ResolveURL(c.baseURL, u)
}

// ResolveURL joins base and u with exactly one "/" unless u has a scheme.
func ResolveURL(base, u string) string {
	if u == "" {
		return ""
	}
	if hasScheme(u) {
		return u
	}
	base = strings.TrimRight(base, "/")
	if strings.HasPrefix(u, "/") {
		return base + u
	}
	return base + "/" + u
}

func hasScheme(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	return parsed.Scheme != ""
}
