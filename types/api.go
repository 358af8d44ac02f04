package types

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// CreateJobRequest is the body of POST /api/jobs
type CreateJobRequest struct {
	URL     string     `json:"url" binding:"required"`
	Kind    OutputKind `json:"kind" binding:"required"`
	Quality string     `json:"quality,omitempty"`
}

// RemoteTestRequest is the body of POST /api/remote/test
type RemoteTestRequest struct {
	Endpoint string `json:"endpoint,omitempty"`
}

// ProxyConfig describes an outbound proxy for the fetch tool
type ProxyConfig struct {
	Scheme   string `json:"scheme"` // http, https, socks4, socks5
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// ValidProxySchemes lists the accepted proxy schemes
var ValidProxySchemes = []string{"http", "https", "socks4", "socks5"}

// Validate checks scheme, host and port
func (p *ProxyConfig) Validate() error {
	ok := false
	for _, s := range ValidProxySchemes {
		if p.Scheme == s {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("unsupported proxy scheme %q", p.Scheme)
	}
	if p.Host == "" {
		return fmt.Errorf("proxy host is required")
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("proxy port %d out of range", p.Port)
	}
	return nil
}

// URL renders the proxy as the string the fetch tool expects
func (p *ProxyConfig) URL() string {
	u := url.URL{
		Scheme: p.Scheme,
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
	}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u.String()
}

// UserSettings holds per-user preferences consulted by the pipeline
type UserSettings struct {
	UserID         string       `json:"userId"`
	AutoUpload     bool         `json:"autoUpload"`
	RemoteEndpoint string       `json:"remoteEndpoint,omitempty"`
	Proxy          *ProxyConfig `json:"proxy,omitempty"`
	Cookies        string       `json:"cookies,omitempty"`
}

// SettingsUpdateRequest is the body of POST /api/settings. Cookies left out
// of the body keep their stored value; clearCookies removes them.
type SettingsUpdateRequest struct {
	UserSettings
	ClearCookies bool `json:"clearCookies,omitempty"`
}
