// Package manifest parses the TOML-shaped document that describes one
// actor: its component binary, declared handlers, permission policy,
// and initial state. Parsing supports `${VAR}` environment-variable
// substitution inside string fields before the TOML is decoded, so a
// manifest can stay content-addressable while still varying per
// deployment (injected paths, hostnames, credentials).
package manifest

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/theater-rt/theater/store"
)

// Manifest is the decoded, substituted, and loaded form of one actor's
// manifest document. ComponentBytes is always populated by Load,
// whether the document named a path or an inline content reference.
type Manifest struct {
	Name        string        `toml:"name"`
	APIVersion  string        `toml:"version"`
	Component   string        `toml:"component"`
	Handlers    []HandlerSpec `toml:"handlers"`
	Permissions Permissions   `toml:"permission_policy"`
	InitState   string        `toml:"init_state"`
	SaveChain   bool          `toml:"save_chain"`

	ComponentBytes []byte `toml:"-"`
	InitStateBytes []byte `toml:"-"`
}

type HandlerSpec struct {
	Type   string            `toml:"type"`
	Config map[string]string `toml:"config"`
}

type Permissions struct {
	AllowedRoots []string `toml:"allowed_roots"`
	AllowedHosts []string `toml:"allowed_hosts"`
	AllowedEnv   []string `toml:"allowed_env"`
}

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substituteEnv replaces every ${VAR} occurrence in raw with the
// corresponding environment variable, leaving the placeholder untouched
// if the variable isn't set - silently dropping an unset variable would
// hide a deployment misconfiguration rather than surface it.
func substituteEnv(raw string) string {
	return varPattern.ReplaceAllStringFunc(raw, func(m string) string {
		name := varPattern.FindStringSubmatch(m)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return m
	})
}

// Parse decodes a manifest document after environment substitution. It
// does not resolve Component into ComponentBytes; callers needing the
// binary use Load.
func Parse(raw []byte) (*Manifest, error) {
	substituted := substituteEnv(string(raw))
	var m Manifest
	if err := toml.Unmarshal([]byte(substituted), &m); err != nil {
		return nil, fmt.Errorf("manifest: parse: %w", err)
	}
	return &m, nil
}

// ContentResolver resolves the manifest's `component` (and `init_state`)
// field - either a filesystem path or a content-store reference - into
// bytes. Resolver (below) builds one that reads from the content store
// when the value starts with the store's reference prefix, and from the
// filesystem otherwise.
type ContentResolver func(ref string) ([]byte, error)

// Load parses raw and resolves ComponentBytes via resolve.
func Load(raw []byte, resolve ContentResolver) (*Manifest, error) {
	m, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	component := strings.TrimSpace(m.Component)
	if component == "" {
		return nil, fmt.Errorf("manifest: %s: missing component", m.Name)
	}
	bytes, err := resolve(component)
	if err != nil {
		return nil, fmt.Errorf("manifest: %s: resolve component %q: %w", m.Name, component, err)
	}
	m.ComponentBytes = bytes
	if state := strings.TrimSpace(m.InitState); state != "" {
		b, err := resolve(state)
		if err != nil {
			return nil, fmt.Errorf("manifest: %s: resolve init_state %q: %w", m.Name, state, err)
		}
		m.InitStateBytes = b
	}
	return m, nil
}

const storeRefPrefix = "store:"

// Resolver returns a ContentResolver that reads a `store:<ref>` value
// from st and anything else from the filesystem, relative to root.
func Resolver(root string, st *store.Store) ContentResolver {
	return func(ref string) ([]byte, error) {
		if strings.HasPrefix(ref, storeRefPrefix) {
			return st.Get(store.ContentRef(strings.TrimPrefix(ref, storeRefPrefix)))
		}
		return os.ReadFile(joinIfRelative(root, ref))
	}
}

func joinIfRelative(root, path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return root + "/" + path
}
