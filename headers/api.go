package headers

import (
	"maps"
	"slices"
	"strings"
)

// APIConfig holds the configured values layered into API headers. Blank
// optional fields are omitted from the result.
type APIConfig struct {
	Accept         string
	AcceptLanguage string
	UserAgent      string

	Timezone   string
	APIKey     string
	ClientID   string
	AppVersion string
	SDKVersion string
	Source     string

	// FallbackToken is used for Authorization when no session token is live.
	FallbackToken string
}

// SessionState is the live session data for the identity making the call.
type SessionState struct {
	Token    string
	DeviceID string
}

// DefaultAPIConfig returns the base values used when nothing is configured.
func DefaultAPIConfig() APIConfig {
	return APIConfig{
		Accept:         jsonContentType,
		AcceptLanguage: "en-US,en;q=0.9",
		UserAgent:      "otpauth/1.0",
	}
}

// APIHeaders layers, in order: base content negotiation headers, optional
// configured fields, the Authorization header and finally overrides. An
// override replaces any existing header whose name matches case-insensitively.
// Overrides are applied in sorted key order, so of two override names that
// differ only in case the one sorting last wins.
func (b *Builder) APIHeaders(cfg APIConfig, state SessionState, overrides map[string]string) map[string]string {
	h := map[string]string{
		"Content-Type": jsonContentType,
	}
	setOrDefault(h, "Accept", cfg.Accept, jsonContentType)
	setIfPresent(h, "Accept-Language", cfg.AcceptLanguage)
	setIfPresent(h, "User-Agent", cfg.UserAgent)

	setIfPresent(h, "Timezone", cfg.Timezone)
	setIfPresent(h, "apikey", cfg.APIKey)
	setIfPresent(h, "clientid", cfg.ClientID)
	setIfPresent(h, "deviceid", state.DeviceID)
	setIfPresent(h, "x-request-webappversion", cfg.AppVersion)
	setIfPresent(h, "psdkuiversion", cfg.SDKVersion)
	setIfPresent(h, "ixisrc", cfg.Source)

	token := strings.TrimSpace(state.Token)
	if token == "" {
		token = strings.TrimSpace(cfg.FallbackToken)
	}
	if token != "" {
		h["Authorization"] = NormalizeBearer(token)
	}

	for _, k := range slices.Sorted(maps.Keys(overrides)) {
		for existing := range h {
			if strings.EqualFold(existing, k) {
				delete(h, existing)
			}
		}
		h[k] = overrides[k]
	}
	return h
}

// NormalizeBearer returns token with exactly one "Bearer " prefix. Tokens that
// were stored with the prefix (in any letter case) are not double-prefixed.
func NormalizeBearer(token string) string {
	token = strings.TrimSpace(token)
	for len(token) >= len(BearerPrefix) && strings.EqualFold(token[:len(BearerPrefix)], BearerPrefix) {
		token = strings.TrimSpace(token[len(BearerPrefix):])
	}
	return BearerPrefix + token
}

func setIfPresent(h map[string]string, key, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	h[key] = value
}

func setOrDefault(h map[string]string, key, value, def string) {
	if strings.TrimSpace(value) == "" {
		value = def
	}
	h[key] = value
}
