package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects how tokens are verified when a key is configured.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

var (
	// ErrNotJWT is returned for opaque (non three-segment) tokens.
	ErrNotJWT = errors.New("jwt: token is not a JWT")
	// ErrNoExpiry is returned when the token has no exp claim.
	ErrNoExpiry = errors.New("jwt: token has no exp claim")
)

// Config controls token inspection. With an empty VerifyKey tokens are
// decoded without verification.
type Config struct {
	SigningMethod SigningMethod
	VerifyKey     []byte
	Leeway        time.Duration
}

// Claims is the subset of registered claims the session cache uses.
type Claims struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Inspector is safe for concurrent use.
type Inspector struct {
	config Config
	key    any
}

func NewInspector(cfg Config) (*Inspector, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt: invalid leeway configuration")
	}
	i := &Inspector{config: cfg}
	if len(cfg.VerifyKey) == 0 {
		return i, nil
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		i.key = cfg.VerifyKey
	case MethodEd25519, "":
		pub, err := parseEdPublicKey(cfg.VerifyKey)
		if err != nil {
			return nil, err
		}
		i.config.SigningMethod = MethodEd25519
		i.key = pub
	default:
		return nil, fmt.Errorf("jwt: unsupported signing method %q", cfg.SigningMethod)
	}
	return i, nil
}

// Inspect decodes token, which may carry a "Bearer " prefix.
func (i *Inspector) Inspect(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "Bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if strings.Count(token, ".") != 2 {
		return Claims{}, ErrNotJWT
	}

	claims := &jwt.RegisteredClaims{}
	if i.key == nil {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return Claims{}, fmt.Errorf("%w: %v", ErrNotJWT, err)
		}
	} else {
		options := []jwt.ParserOption{jwt.WithValidMethods([]string{i.method().Alg()})}
		if i.config.Leeway > 0 {
			options = append(options, jwt.WithLeeway(i.config.Leeway))
		}
		_, err := jwt.NewParser(options...).ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
			return i.key, nil
		})
		// An expired but authentic token still reports its exp.
		if err != nil && !errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, err
		}
	}

	out := Claims{Subject: claims.Subject}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// ExpiresAt returns the exp claim of token. ok is false for opaque tokens,
// tokens without exp and tokens failing verification.
func (i *Inspector) ExpiresAt(token string) (time.Time, bool) {
	c, err := i.Inspect(token)
	if err != nil || c.ExpiresAt.IsZero() {
		return time.Time{}, false
	}
	return c.ExpiresAt, true
}

func (i *Inspector) method() jwt.SigningMethod {
	if i.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("jwt: invalid ed25519 public key type")
	}
	return edKey, nil
}
