// File path: internal/profile/profile.go
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/crawlchat/crawlchat/internal/common"
	"github.com/crawlchat/crawlchat/internal/fault"
)

// DefaultName is the profile that must always exist as a fallback.
const DefaultName = "default"

const defaultSystemPrompt = "You are a helpful assistant that answers questions based on the provided context. " +
	"If the answer is not in the context, say you don't know."

// SearchSettings bound the retrieval performed for a profile.
type SearchSettings struct {
	// Sites holds site-name substrings; empty means search all sites.
	Sites     []string `yaml:"sites" json:"sites"`
	Threshold float64  `yaml:"threshold" json:"threshold"`
	Limit     int      `yaml:"limit" json:"limit"`
}

// Profile is a named bundle of system prompt and search settings selectable
// per chat session. Profiles are immutable once loaded.
type Profile struct {
	Name           string         `yaml:"name" json:"name"`
	Description    string         `yaml:"description" json:"description"`
	SystemPrompt   string         `yaml:"system_prompt" json:"system_prompt"`
	SearchSettings SearchSettings `yaml:"search_settings" json:"search_settings"`
}

// Registry holds the read-only set of profiles resolved once per process.
type Registry struct {
	profiles map[string]Profile
}

// Default returns the built-in fallback profile.
func Default() Profile {
	return Profile{
		Name:         DefaultName,
		Description:  "General-purpose assistant for all sites",
		SystemPrompt: defaultSystemPrompt,
		SearchSettings: SearchSettings{
			Threshold: 0.5,
			Limit:     5,
		},
	}
}

// NewRegistry builds a registry from the given profiles, always including the
// default fallback. Invalid profiles fail fast.
func NewRegistry(profiles ...Profile) (*Registry, error) {
	reg := &Registry{profiles: map[string]Profile{DefaultName: Default()}}
	for _, p := range profiles {
		if err := validate(p); err != nil {
			return nil, err
		}
		reg.profiles[p.Name] = p
	}
	return reg, nil
}

// LoadDir reads all *.yaml / *.yml files from dir into a registry. A missing
// directory yields the default-only registry; a malformed file is an error.
func LoadDir(dir string) (*Registry, error) {
	logger := common.Logger()
	reg, _ := NewRegistry()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("profile: directory not found, using defaults", "dir", dir)
			return reg, nil
		}
		return nil, fmt.Errorf("read profiles dir: %w", err)
	}
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read profile %s: %w", path, err)
		}
		var p Profile
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fault.Wrap(fault.KindValidation, err, "parse profile %s", path)
		}
		applyDefaults(&p)
		if err := validate(p); err != nil {
			return nil, fault.Wrap(fault.KindValidation, err, "profile %s", path)
		}
		reg.profiles[p.Name] = p
		loaded++
	}
	logger.Info("profile: profiles loaded", "dir", dir, "count", loaded)
	return reg, nil
}

func applyDefaults(p *Profile) {
	if p.SystemPrompt == "" {
		p.SystemPrompt = defaultSystemPrompt
	}
	if p.SearchSettings.Threshold == 0 && p.SearchSettings.Limit == 0 && len(p.SearchSettings.Sites) == 0 {
		p.SearchSettings = Default().SearchSettings
	}
	if p.SearchSettings.Limit <= 0 {
		p.SearchSettings.Limit = 5
	}
}

func validate(p Profile) error {
	if strings.TrimSpace(p.Name) == "" {
		return fault.New(fault.KindValidation, "profile name required")
	}
	if p.SearchSettings.Threshold < 0 || p.SearchSettings.Threshold > 1 {
		return fault.New(fault.KindValidation, "profile %q: threshold %v out of range [0,1]", p.Name, p.SearchSettings.Threshold)
	}
	if p.SearchSettings.Limit < 1 {
		return fault.New(fault.KindValidation, "profile %q: limit must be at least 1", p.Name)
	}
	return nil
}

// Get returns a profile by name.
func (r *Registry) Get(name string) (Profile, error) {
	p, ok := r.profiles[name]
	if !ok {
		return Profile{}, fault.New(fault.KindNotFound, "profile %q not found", name)
	}
	return p, nil
}

// Has reports whether a profile is loaded.
func (r *Registry) Has(name string) bool {
	_, ok := r.profiles[name]
	return ok
}

// List returns all profiles sorted by name.
func (r *Registry) List() []Profile {
	out := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
