// Package alias provides a read-only lookup over the host alias registry.
// Alias *management* (add/remove/list, interactive prompts, public-key
// installation) belongs to the surrounding CLI tool and is out of scope here;
// this package only satisfies the resolver's need to turn "name" into
// "user@host:port".
package alias

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Entry is one registered host alias.
type Entry struct {
	Name string `json:"name"`
	User string `json:"user"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Registry is a read-only, in-memory view of the alias file loaded once per
// invocation.
type Registry struct {
	entries map[string]Entry
}

// Load reads the alias registry from path. A missing file is not an error —
// it yields an empty registry, and every remote endpoint lookup then fails
// with model.AliasNotFound at resolve time.
func Load(path string) (*Registry, error) {
	reg := &Registry{entries: make(map[string]Entry)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}
		return nil, err
	}

	var list []Entry
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	for _, e := range list {
		if e.Port == 0 {
			e.Port = 22
		}
		reg.entries[e.Name] = e
	}
	return reg, nil
}

// DefaultPath returns ~/.hostpilot/aliases.json, honoring $HOSTPILOT_ALIASES
// as an override.
func DefaultPath() string {
	if p := os.Getenv("HOSTPILOT_ALIASES"); p != "" {
		return p
	}
	home := homeDir()
	return filepath.Join(home, ".hostpilot", "aliases.json")
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	if h := os.Getenv("USERPROFILE"); h != "" {
		return h
	}
	return "."
}

// Lookup returns the entry registered under name, and whether it exists.
func (r *Registry) Lookup(name string) (Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}
