package properties

import (
	"errors"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/subosito/gotenv"
)

// HeaderFileSuffix is appended to the client id to form a header file name.
const HeaderFileSuffix = "_headers.properties"

// HeaderSet resolves the static header set configured for a client. Header
// files keep the header name casing; headers.<clientId>.* keys are
// lower-cased by the loader. Lookups are cached per client, including misses.
type HeaderSet struct {
	dir   string
	props *Properties

	mu    sync.RWMutex
	cache map[string]map[string]string
}

// NewHeaderSet returns a HeaderSet reading <dir>/<clientId>_headers.properties
// first and falling back to headers.<clientId>.* keys in props. Either may be
// empty/nil.
func NewHeaderSet(dir string, props *Properties) *HeaderSet {
	return &HeaderSet{
		dir:   dir,
		props: props,
		cache: map[string]map[string]string{},
	}
}

// Lookup returns a copy of the configured headers for clientID. ok is false
// when nothing is configured, so callers can apply their defaults.
func (s *HeaderSet) Lookup(clientID string) (map[string]string, bool) {
	if s == nil || strings.TrimSpace(clientID) == "" {
		return nil, false
	}

	s.mu.RLock()
	hs, cached := s.cache[clientID]
	s.mu.RUnlock()
	if !cached {
		hs = s.load(clientID)
		s.mu.Lock()
		s.cache[clientID] = hs
		s.mu.Unlock()
	}

	if len(hs) == 0 {
		return nil, false
	}
	return maps.Clone(hs), true
}

func (s *HeaderSet) load(clientID string) map[string]string {
	if s.dir != "" {
		if hs, err := readHeaderFile(filepath.Join(s.dir, clientID+HeaderFileSuffix)); err == nil && len(hs) > 0 {
			return hs
		}
	}
	if s.props != nil {
		if hs := s.props.StringMap("headers." + clientID); len(hs) > 0 {
			return hs
		}
	}
	return nil
}

func readHeaderFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	env, err := gotenv.StrictParse(f)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		if k = strings.TrimSpace(k); k != "" {
			out[k] = strings.TrimSpace(v)
		}
	}
	return out, nil
}
