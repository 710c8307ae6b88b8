// Package registry implements the provider-pack adapter registry of spec
// §4.6: declarative YAML packs are loaded into typed adapter descriptors,
// with path-safety and duplicate-name enforcement.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/greentic-ai/messaging-gateway/internal/gatewayerr"
)

// Kind is the adapter's declared direction.
type Kind string

const (
	KindIngress       Kind = "Ingress"
	KindEgress        Kind = "Egress"
	KindIngressEgress Kind = "IngressEgress"
)

// Capabilities is an open bag of adapter-declared capability flags.
type Capabilities map[string]any

// Descriptor is the typed record for a pack-declared adapter: its name,
// kind, flows and capabilities, per spec §4.6. It carries no platform
// field; InferPlatformFromAdapterName derives one from the name.
type Descriptor struct {
	PackID       string
	PackVersion  string
	Name         string
	Kind         Kind
	ComponentRef string
	DefaultFlow  string
	CustomFlow   string
	Capabilities Capabilities
	Source       string
}

// AllowsIngress reports whether this descriptor can be used for ingress.
func (d Descriptor) AllowsIngress() bool { return d.Kind == KindIngress || d.Kind == KindIngressEgress }

// AllowsEgress reports whether this descriptor can be used for egress.
func (d Descriptor) AllowsEgress() bool { return d.Kind == KindEgress || d.Kind == KindIngressEgress }

// FlowPath returns custom_flow if set, else default_flow.
func (d Descriptor) FlowPath() string {
	if d.CustomFlow != "" {
		return d.CustomFlow
	}
	return d.DefaultFlow
}

// Registry holds loaded adapter descriptors keyed by name.
type Registry struct {
	adapters map[string]Descriptor
}

// New returns an empty registry.
func New() *Registry { return &Registry{adapters: map[string]Descriptor{}} }

// Register adds a descriptor, failing with DuplicateAdapter if the name
// already exists.
func (r *Registry) Register(d Descriptor) error {
	if _, exists := r.adapters[d.Name]; exists {
		return gatewayerr.ClientError("E_DUPLICATE_ADAPTER", "duplicate adapter: "+d.Name)
	}
	r.adapters[d.Name] = d
	return nil
}

// Get returns the descriptor registered under name, if any.
func (r *Registry) Get(name string) (Descriptor, bool) {
	d, ok := r.adapters[name]
	return d, ok
}

// ByKind returns all descriptors with the given kind.
func (r *Registry) ByKind(kind Kind) []Descriptor {
	var out []Descriptor
	for _, d := range r.adapters {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// All returns every registered descriptor.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.adapters))
	for _, d := range r.adapters {
		out = append(out, d)
	}
	return out
}

// IsEmpty reports whether no adapters are registered.
func (r *Registry) IsEmpty() bool { return len(r.adapters) == 0 }

// packSpec is the on-disk YAML shape: {id, version, messaging.adapters[...]}.
type packSpec struct {
	ID        string `yaml:"id"`
	Version   string `yaml:"version"`
	Messaging *struct {
		Adapters []adapterSpec `yaml:"adapters"`
	} `yaml:"messaging"`
	// ProviderExtension fully replaces the legacy messaging block when present.
	ProviderExtension *struct {
		Adapters []adapterSpec `yaml:"adapters"`
	} `yaml:"provider_extension"`
}

type adapterSpec struct {
	Name          string         `yaml:"name"`
	Kind          string         `yaml:"kind"`
	ComponentRef  string         `yaml:"component_ref"`
	DefaultFlow   string         `yaml:"default_flow"`
	CustomFlow    string         `yaml:"custom_flow"`
	Capabilities  map[string]any `yaml:"capabilities"`
}

// LoadFromPaths canonicalizes root, then loads every referenced pack file,
// requiring every relative path to normalize beneath root (absolute paths
// are allowed outside root, per spec §4.6).
func LoadFromPaths(root string, paths []string) (*Registry, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("canonicalize packs root %s: %w", root, err)
	}
	reg := New()
	for _, p := range paths {
		descriptors, err := descriptorsFromPackFile(absRoot, p)
		if err != nil {
			return nil, fmt.Errorf("load pack %s: %w", p, err)
		}
		for _, d := range descriptors {
			if err := reg.Register(d); err != nil {
				return nil, fmt.Errorf("register adapters from %s: %w", p, err)
			}
		}
	}
	return reg, nil
}

func resolvePackPath(root, path string) (string, error) {
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	return normalizeUnderRoot(root, path)
}

// normalizeUnderRoot cleans path relative to root and rejects any path that
// would escape root (e.g. via "../"), per spec §4.6 path-safety requirement.
func normalizeUnderRoot(root, path string) (string, error) {
	joined := filepath.Join(root, path)
	cleaned := filepath.Clean(joined)
	rootClean := filepath.Clean(root)
	if cleaned != rootClean && !strings.HasPrefix(cleaned, rootClean+string(filepath.Separator)) {
		return "", gatewayerr.ClientError("E_UNSAFE_PACK_PATH", "pack path escapes packs root: "+path)
	}
	return cleaned, nil
}

func descriptorsFromPackFile(root, path string) ([]Descriptor, error) {
	safePath, err := resolvePackPath(root, path)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(safePath))
	switch ext {
	case ".gtpack":
		return nil, gatewayerr.ConfigError("E_GTPACK_UNSUPPORTED",
			"signed gtpack archives are not supported by this build; use YAML packs under messaging.adapters")
	default:
		return descriptorsFromYAML(safePath)
	}
}

func descriptorsFromYAML(path string) ([]Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pack file %s: %w", path, err)
	}
	var spec packSpec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("%s is not a valid pack spec: %w", path, err)
	}

	var specs []adapterSpec
	switch {
	case spec.ProviderExtension != nil:
		specs = spec.ProviderExtension.Adapters
	case spec.Messaging != nil:
		specs = spec.Messaging.Adapters
	}

	out := make([]Descriptor, 0, len(specs))
	for _, a := range specs {
		kind, err := parseKind(a.Kind)
		if err != nil {
			return nil, fmt.Errorf("pack %s adapter %s: %w", path, a.Name, err)
		}
		out = append(out, Descriptor{
			PackID:       spec.ID,
			PackVersion:  spec.Version,
			Name:         a.Name,
			Kind:         kind,
			ComponentRef: a.ComponentRef,
			DefaultFlow:  a.DefaultFlow,
			CustomFlow:   a.CustomFlow,
			Capabilities: a.Capabilities,
			Source:       path,
		})
	}
	return out, nil
}

func parseKind(raw string) (Kind, error) {
	switch raw {
	case string(KindIngress):
		return KindIngress, nil
	case string(KindEgress):
		return KindEgress, nil
	case string(KindIngressEgress):
		return KindIngressEgress, nil
	default:
		return "", gatewayerr.ConfigError("E_UNKNOWN_ADAPTER_KIND", "unknown adapter kind: "+raw)
	}
}

// platformPrefixes maps a declared adapter-name prefix to a platform, used
// by InferPlatformFromAdapterName. This mapping is advisory, not
// authoritative, per spec §4.6.
var platformPrefixes = map[string]string{
	"slack":    "slack",
	"teams":    "teams",
	"webex":    "webex",
	"webchat":  "webchat",
	"telegram": "telegram",
	"whatsapp": "whatsapp",
}

// InferPlatformFromAdapterName does a best-effort prefix match of name
// against known platform prefixes (e.g. "slack-ingress" -> "slack").
func InferPlatformFromAdapterName(name string) (string, bool) {
	lower := strings.ToLower(name)
	for prefix, platform := range platformPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return platform, true
		}
	}
	return "", false
}
