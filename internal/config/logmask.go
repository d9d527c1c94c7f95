// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

var sensitiveKeywords = []string{"password", "secret", "token", "credential"}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// mask keeps a hint of a secret's shape without revealing it.
func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}

// MaskURL hides userinfo and token query parameters.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	q := u.Query()
	changed := false
	for k := range q {
		if isSensitiveKey(k) {
			q.Set(k, "***")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Redacted returns a copy safe to log.
func (c AppConfig) Redacted() AppConfig {
	c.Discord.Token = mask(c.Discord.Token)
	c.Plex.Token = mask(c.Plex.Token)
	c.Plex.URL = MaskURL(c.Plex.URL)
	c.Redis.Password = mask(c.Redis.Password)
	return c
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
