// Package urlbuilder implements the two URL shapes spec.md §4.F grants the
// download-list builder: a static prefix, or an absolute URL built from the
// incoming request's scheme and host.
package urlbuilder

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Builder produces the download URL for one (song_id, file_name, token).
type Builder interface {
	BuildURL(songID, fileName, token string) string
}

// Prefix implements the DOWNLOAD_LINK_PREFIX form:
// ${prefix_with_trailing_slash}${song_id}/${file_name}?t=${token}.
type Prefix struct {
	Prefix string
}

func (p Prefix) BuildURL(songID, fileName, token string) string {
	prefix := p.Prefix
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return fmt.Sprintf("%s%s/%s?t=%s", prefix, songID, fileName, url.QueryEscape(token))
}

// ChiRoute builds an absolute URL for the fixed path pattern
// "/download/{song_id}/{file_name}", using the incoming request's scheme
// and host the way chi users recover url_for(..., _external=True) behavior,
// since chi itself has no reverse router. It consults no router, and the
// path is not checked against any registered route.
type ChiRoute struct {
	Request *http.Request
}

func (c ChiRoute) BuildURL(songID, fileName, token string) string {
	scheme := "http"
	if c.Request != nil && c.Request.TLS != nil {
		scheme = "https"
	}
	host := ""
	if c.Request != nil {
		host = c.Request.Host
	}
	return fmt.Sprintf("%s://%s/download/%s/%s?t=%s", scheme, host, songID, fileName, url.QueryEscape(token))
}
