package component

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/input"
)

// Component types
const (
	TypeSource = "source"
	TypeSink   = "sink"
)

// SourceFactory creates a source for a parsed URI. Factories do no I/O;
// listeners are armed by Run.
type SourceFactory func(uri *url.URL, opts map[string]any, deps Dependencies) (Source, error)

// SinkFactory creates a sink for a parsed URI.
type SinkFactory func(ctx context.Context, uri *url.URL, opts map[string]any, deps Dependencies) (Sink, error)

// Info holds metadata about an available component type
type Info struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Schemes     []string `json:"schemes"`
	Description string   `json:"description"`
	Version     string   `json:"version"`
}

// Registration holds the factory and metadata for a component type
type Registration struct {
	Name          string
	Type          string
	Schemes       []string
	Description   string
	Version       string
	SourceFactory SourceFactory
	SinkFactory   SinkFactory
}

// RegistrationConfig provides a clean API for component registration.
type RegistrationConfig struct {
	Name          string        // Component name (e.g., "dir", "queue", "file")
	Type          string        // TypeSource or TypeSink
	Schemes       []string      // URI schemes served (e.g., "amqp", "nats")
	Description   string        // Human-readable description
	Version       string        // Component version
	SourceFactory SourceFactory // Set for sources
	SinkFactory   SinkFactory   // Set for sinks
}

// Registry maps URI schemes to source and sink factories.
type Registry struct {
	factories map[string]*Registration
	sources   map[string]*Registration
	sinks     map[string]*Registration
	mu        sync.RWMutex
}

// NewRegistry creates a new empty component registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]*Registration),
		sources:   make(map[string]*Registration),
		sinks:     make(map[string]*Registration),
	}
}

// RegisterFactory registers a component factory with the given name.
// Returns an error if the name or one of its schemes is already taken.
func (r *Registry) RegisterFactory(name string, registration *Registration) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterFactory", "factory name validation")
	}
	if registration == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterFactory", "registration validation")
	}
	if len(registration.Schemes) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterFactory", "scheme validation")
	}

	var byScheme map[string]*Registration
	switch registration.Type {
	case TypeSource:
		if registration.SourceFactory == nil {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterFactory", "source factory validation")
		}
		byScheme = r.sources
	case TypeSink:
		if registration.SinkFactory == nil {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterFactory", "sink factory validation")
		}
		byScheme = r.sinks
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterFactory", "component type validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		msg := fmt.Errorf("factory '%s' is already registered", name)
		return errors.WrapInvalid(msg, "Registry", "RegisterFactory", "duplicate factory check")
	}
	for _, scheme := range registration.Schemes {
		if owner, exists := byScheme[strings.ToLower(scheme)]; exists {
			msg := fmt.Errorf("%s scheme '%s' is already served by '%s'", registration.Type, scheme, owner.Name)
			return errors.WrapInvalid(msg, "Registry", "RegisterFactory", "duplicate scheme check")
		}
	}

	registration.Name = name
	r.factories[name] = registration
	for _, scheme := range registration.Schemes {
		byScheme[strings.ToLower(scheme)] = registration
	}
	return nil
}

// RegisterWithConfig registers a component using the config struct.
func (r *Registry) RegisterWithConfig(config RegistrationConfig) error {
	return r.RegisterFactory(config.Name, &Registration{
		Name:          config.Name,
		Type:          config.Type,
		Schemes:       config.Schemes,
		Description:   config.Description,
		Version:       config.Version,
		SourceFactory: config.SourceFactory,
		SinkFactory:   config.SinkFactory,
	})
}

// OpenSource parses uri and creates a source with the factory serving its scheme.
func (r *Registry) OpenSource(uri string, opts map[string]any, deps Dependencies) (Source, error) {
	u, err := input.ParseURI(uri)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "OpenSource", "parse uri")
	}

	r.mu.RLock()
	registration, exists := r.sources[u.Scheme]
	r.mu.RUnlock()
	if !exists {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrUnsupportedScheme, u.Scheme),
			"Registry", "OpenSource", "factory lookup")
	}

	src, err := registration.SourceFactory(u, opts, deps)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "OpenSource", "factory execution")
	}
	return src, nil
}

// OpenSink parses uri and creates a sink with the factory serving its scheme.
func (r *Registry) OpenSink(ctx context.Context, uri string, opts map[string]any, deps Dependencies) (Sink, error) {
	u, err := input.ParseURI(uri)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "OpenSink", "parse uri")
	}

	r.mu.RLock()
	registration, exists := r.sinks[u.Scheme]
	r.mu.RUnlock()
	if !exists {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrUnsupportedScheme, u.Scheme),
			"Registry", "OpenSink", "factory lookup")
	}

	sink, err := registration.SinkFactory(ctx, u, opts, deps)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "OpenSink", "factory execution")
	}
	return sink, nil
}

// HasSource reports whether a source serves scheme.
func (r *Registry) HasSource(scheme string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sources[strings.ToLower(scheme)]
	return ok
}

// HasSink reports whether a sink serves scheme.
func (r *Registry) HasSink(scheme string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sinks[strings.ToLower(scheme)]
	return ok
}

// ListAvailable returns metadata for every registered component, sorted by name.
func (r *Registry) ListAvailable() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.factories))
	for _, reg := range r.factories {
		out = append(out, Info{
			Name:        reg.Name,
			Type:        reg.Type,
			Schemes:     append([]string(nil), reg.Schemes...),
			Description: reg.Description,
			Version:     reg.Version,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
