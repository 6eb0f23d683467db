// Package registry keeps the named voices the service can synthesize with.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/index-tts-go/index-tts-go/internal/ttserr"
)

// Voice is a registered character and its reference audio.
type Voice struct {
	Name string
	// Locators are the audio locators as registered.
	Locators []string
	// References are the locators resolved to local paths at registration.
	References []string
	// EngineSynced is true when the engine accepted the character, so the
	// character-keyed inference path can be used.
	EngineSynced bool
	UpdatedAt    time.Time
}

// Resolver resolves audio locators to local paths.
type Resolver interface {
	ResolveAll(ctx context.Context, locators []string) ([]string, error)
}

// Registrar pushes a character's references into the engine.
type Registrar interface {
	RegisterCharacter(ctx context.Context, character string, references []string) error
}

// Store persists runtime registrations.
type Store interface {
	Save(ctx context.Context, name string, locators []string) error
	LoadAll(ctx context.Context) (map[string][]string, error)
}

// Registry maps voice names to voices. Lookups read an immutable snapshot and
// never block; writers copy the map under a mutex and publish the copy.
type Registry struct {
	resolver  Resolver
	registrar Registrar
	store     Store
	logger    zerolog.Logger
	now       func() time.Time

	mu     sync.Mutex // serializes writers
	voices atomic.Pointer[map[string]Voice]
}

// Option customizes a Registry.
type Option func(*Registry)

// WithStore persists runtime registrations to s.
func WithStore(s Store) Option {
	return func(r *Registry) { r.store = s }
}

// WithRegistrar pushes registrations into the engine.
func WithRegistrar(reg Registrar) Option {
	return func(r *Registry) { r.registrar = reg }
}

// New returns an empty Registry.
func New(resolver Resolver, logger zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		resolver: resolver,
		logger:   logger.With().Str("component", "registry").Logger(),
		now:      time.Now,
	}
	empty := map[string]Voice{}
	r.voices.Store(&empty)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register resolves locators and inserts or replaces the voice called name.
// The registry is left unchanged when validation or resolution fails.
func (r *Registry) Register(ctx context.Context, name string, locators []string) (Voice, error) {
	return r.register(ctx, name, locators, true)
}

func (r *Registry) register(ctx context.Context, name string, locators []string, persist bool) (Voice, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Voice{}, ttserr.Validation("register", "voice name is required")
	}
	if len(locators) == 0 {
		return Voice{}, ttserr.Validation("register", "voice %q needs at least one audio locator", name)
	}

	refs, err := r.resolver.ResolveAll(ctx, locators)
	if err != nil {
		return Voice{}, err
	}

	voice := Voice{
		Name:       name,
		Locators:   append([]string(nil), locators...),
		References: refs,
		UpdatedAt:  r.now(),
	}

	if r.registrar != nil {
		if err := r.registrar.RegisterCharacter(ctx, name, refs); err != nil {
			// The voice still works through the reference path.
			r.logger.Warn().Err(err).Str("voice", name).Msg("engine rejected character registration")
		} else {
			voice.EngineSynced = true
		}
	}

	if persist && r.store != nil {
		if err := r.store.Save(ctx, name, voice.Locators); err != nil {
			return Voice{}, fmt.Errorf("persist voice %q: %w", name, err)
		}
	}

	r.mu.Lock()
	current := *r.voices.Load()
	next := make(map[string]Voice, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[name] = voice
	r.voices.Store(&next)
	r.mu.Unlock()

	r.logger.Info().
		Str("voice", name).
		Int("references", len(refs)).
		Bool("engine_synced", voice.EngineSynced).
		Msg("voice registered")

	return voice, nil
}

// Lookup returns the voice called name.
func (r *Registry) Lookup(name string) (Voice, error) {
	v, ok := (*r.voices.Load())[name]
	if !ok {
		return Voice{}, ttserr.NotFound("lookup", "voice %q is not registered", name)
	}
	return v, nil
}

// List returns every voice sorted by name.
func (r *Registry) List() []Voice {
	snapshot := *r.voices.Load()
	out := make([]Voice, 0, len(snapshot))
	for _, v := range snapshot {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len reports the number of registered voices.
func (r *Registry) Len() int {
	return len(*r.voices.Load())
}

// Load registers every entry of table without persisting it. Failing
// entries are logged and skipped; their errors are joined in the result.
func (r *Registry) Load(ctx context.Context, table map[string][]string) (int, error) {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	loaded := 0
	for _, name := range names {
		if _, err := r.register(ctx, name, table[name], false); err != nil {
			r.logger.Warn().Err(err).Str("voice", name).Msg("skipping voice from table")
			errs = append(errs, fmt.Errorf("voice %q: %w", name, err))
			continue
		}
		loaded++
	}
	return loaded, errors.Join(errs...)
}

// Restore replays the voices saved in the store.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	table, err := r.store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load stored voices: %w", err)
	}
	return r.Load(ctx, table)
}
