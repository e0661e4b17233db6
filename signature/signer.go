package signature

import (
	"crypto"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"

	"github.com/MrEthical07/otpauth/internal/identity"
)

// ErrAlgorithmUnavailable is returned when SHA-512 is not linked into the binary.
// There is no safe fallback for a signing scheme, so callers treat it as fatal.
var ErrAlgorithmUnavailable = errors.New("sha-512 algorithm unavailable")

const separator = "~"

// Input is the immutable set of values signed for one OTP trigger.
type Input struct {
	Identity         string
	ClientID         string
	DeviceID         string
	DeviceTimeMillis int64
}

// Signer produces trigger signatures. The zero value is not usable; use [NewSigner].
type Signer struct {
	ready bool
}

// NewSigner verifies that SHA-512 is available and returns a [Signer].
func NewSigner() (*Signer, error) {
	if !crypto.SHA512.Available() {
		return nil, ErrAlgorithmUnavailable
	}
	return &Signer{ready: true}, nil
}

// Sign returns the hex SHA-512 digest of [Message](in).
//
// Sign panics with [ErrAlgorithmUnavailable] when called on a Signer that was
// not created by [NewSigner].
func (s *Signer) Sign(in Input) string {
	if s == nil || !s.ready {
		panic(ErrAlgorithmUnavailable)
	}
	return Sign(in)
}

// Sign is the stateless form of [Signer.Sign].
func Sign(in Input) string {
	sum := sha512.Sum512([]byte(Message(in)))
	return hex.EncodeToString(sum[:])
}

// Message builds the "~"-joined string that is hashed for in.
func Message(in Input) string {
	parts := make([]string, 0, 5)
	parts = append(parts, in.Identity)
	if !identity.IsEmail(in.Identity) {
		parts = append(parts, identity.CountryPrefix)
	}
	parts = append(parts, in.ClientID, in.DeviceID, strconv.FormatInt(in.DeviceTimeMillis, 10))
	return strings.Join(parts, separator)
}
