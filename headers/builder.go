package headers

import (
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// BearerPrefix is the normalized Authorization scheme prefix.
	BearerPrefix = "Bearer "

	defaultAPIKeySuffix   = "!2$"
	defaultMobileClientID = "iximatr"
	formContentType       = "application/x-www-form-urlencoded"
	jsonContentType       = "application/json"
	xRequestedWith        = "XMLHttpRequest"
)

// Config controls the client-specific parts of OTP and login headers.
type Config struct {
	APIKeySuffix string

	// MobileClientID names the client that receives app/OS version headers
	// on login. Compared case-insensitively.
	MobileClientID   string
	MobileAppVersion string
	MobileOS         string
	MobileOSVersion  string
	MobileLanguage   string
}

// DefaultConfig returns the header settings observed for the production clients.
func DefaultConfig() Config {
	return Config{
		APIKeySuffix:     defaultAPIKeySuffix,
		MobileClientID:   defaultMobileClientID,
		MobileAppVersion: "431",
		MobileOS:         "Android",
		MobileOSVersion:  "22",
		MobileLanguage:   "en",
	}
}

// StaticSource returns the configured static headers for a client. ok is
// false when the client has no configured header set.
type StaticSource func(clientID string) (headers map[string]string, ok bool)

// Builder composes header maps. A Builder is safe for concurrent use.
type Builder struct {
	cfg     Config
	static  StaticSource
	now     func() time.Time
	newUUID func() string
}

// NewBuilder returns a Builder. static may be nil, in which case every client
// uses the default header set.
func NewBuilder(cfg Config, static StaticSource) *Builder {
	if cfg.APIKeySuffix == "" {
		cfg.APIKeySuffix = defaultAPIKeySuffix
	}
	return &Builder{
		cfg:     cfg,
		static:  static,
		now:     time.Now,
		newUUID: uuid.NewString,
	}
}

// CommonHeaders returns the static headers for clientID, falling back to the
// default set when none are configured. The returned map is owned by the caller.
func (b *Builder) CommonHeaders(clientID string) map[string]string {
	if b.static != nil {
		if hs, ok := b.static(clientID); ok && len(hs) > 0 {
			return maps.Clone(hs)
		}
	}
	return b.defaultHeaders(clientID)
}

func (b *Builder) defaultHeaders(clientID string) map[string]string {
	return map[string]string{
		"apiKey":       clientID + b.cfg.APIKeySuffix,
		"accept":       "*/*",
		"ixiSrc":       clientID,
		"clientId":     clientID,
		"Content-Type": formContentType,
	}
}

// OTPHeaders returns the headers for an OTP trigger request.
func (b *Builder) OTPHeaders(clientID, deviceID string, deviceTimeMillis int64) map[string]string {
	h := b.CommonHeaders(clientID)
	h["deviceId"] = deviceID
	h["deviceTime"] = strconv.FormatInt(deviceTimeMillis, 10)
	h["clientId"] = clientID
	h["uuid"] = deviceID
	h["X-Requested-With"] = xRequestedWith
	return h
}

// LoginHeaders returns the headers for the OTP verification request. The
// configured mobile client additionally gets app and OS version fields and a
// fresh request uuid.
func (b *Builder) LoginHeaders(clientID, deviceID string) map[string]string {
	h := b.CommonHeaders(clientID)
	h["deviceId"] = deviceID
	h["requesttimestamp"] = strconv.FormatInt(b.now().UnixMilli(), 10)
	h["X-Requested-With"] = xRequestedWith

	if b.cfg.MobileClientID != "" && strings.EqualFold(clientID, b.cfg.MobileClientID) {
		setIfPresent(h, "appVersion", b.cfg.MobileAppVersion)
		setIfPresent(h, "deviceOs", b.cfg.MobileOS)
		setIfPresent(h, "deviceOsVersion", b.cfg.MobileOSVersion)
		setIfPresent(h, "Accept-Language", b.cfg.MobileLanguage)
		h["uuid"] = b.newUUID()
	}
	return h
}
