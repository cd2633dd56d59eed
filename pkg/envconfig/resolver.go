package envconfig

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pelletier/go-toml/v2"

	"github.com/bft-labs/e2ekit/pkg/log"
)

// ErrInvalidScope is returned for scopes with a malformed path pattern.
var ErrInvalidScope = errors.New("envconfig: invalid scope")

// Scope is one [[scope]] entry.
type Scope struct {
	Path      string            `toml:"path"`
	Bootstrap []string          `toml:"bootstrap"`
	Env       map[string]string `toml:"env"`
	Params    map[string]any    `toml:"params"`
}

type document struct {
	Scopes []Scope `toml:"scope"`
}

// Config is the resolved environment of one class path.
type Config struct {
	ClassPath string

	// Scopes lists the matched scope paths, most general first.
	Scopes    []string
	Env       map[string]string
	Params    map[string]any
	Bootstrap []string
}

// Param looks up a dotted path such as "db.driver" in Params.
func (c Config) Param(key string) (any, bool) {
	var cur any = c.Params
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the parameter at key when it is a string.
func (c Config) String(key string) string {
	v, _ := c.Param(key)
	s, _ := v.(string)
	return s
}

// EnvKeys returns the env variable names in sorted order.
func (c Config) EnvKeys() []string {
	return slices.Sorted(maps.Keys(c.Env))
}

func (c Config) clone() Config {
	return Config{
		ClassPath: c.ClassPath,
		Scopes:    slices.Clone(c.Scopes),
		Env:       maps.Clone(c.Env),
		Params:    deepCopy(c.Params),
		Bootstrap: slices.Clone(c.Bootstrap),
	}
}

// Resolver resolves class paths against a scope file. Results are cached
// until Invalidate is called. A Resolver is safe for concurrent use.
type Resolver struct {
	mu     sync.Mutex
	file   string
	dir    string
	static bool
	scopes []Scope
	loaded bool
	cache  map[string]Config
	logger log.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the resolver logger.
func WithLogger(l log.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver creates a resolver reading file on first use. An empty file
// name yields a resolver with no scopes.
func NewResolver(file string, opts ...Option) *Resolver {
	r := &Resolver{
		file:   file,
		cache:  make(map[string]Config),
		logger: log.NewNoopLogger(),
	}
	if file != "" {
		r.dir = filepath.Dir(file)
	} else {
		r.static = true
		r.loaded = true
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewStaticResolver creates a resolver over in-memory scopes. Relative
// bootstrap paths resolve against baseDir.
func NewStaticResolver(scopes []Scope, baseDir string, opts ...Option) *Resolver {
	r := NewResolver("", opts...)
	r.dir = baseDir
	r.scopes = scopes
	return r
}

// File returns the scope file path, empty for static resolvers.
func (r *Resolver) File() string { return r.file }

// Invalidate drops cached results and, for file resolvers, forces the file
// to be read again.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.cache)
	if !r.static {
		r.loaded = false
		r.scopes = nil
	}
}

// Resolve returns the merged configuration for classPath.
func (r *Resolver) Resolve(classPath string) (Config, error) {
	classPath = normalize(classPath)

	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg, ok := r.cache[classPath]; ok {
		return cfg.clone(), nil
	}
	if err := r.load(); err != nil {
		return Config{}, err
	}

	type match struct {
		scope Scope
		depth int
		index int
	}
	var matches []match
	for i, s := range r.scopes {
		ok, err := matchScope(s.Path, classPath)
		if err != nil {
			return Config{}, err
		}
		if ok {
			matches = append(matches, match{scope: s, depth: depth(s.Path), index: i})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].depth != matches[j].depth {
			return matches[i].depth < matches[j].depth
		}
		return matches[i].index < matches[j].index
	})

	cfg := Config{
		ClassPath: classPath,
		Env:       make(map[string]string),
		Params:    make(map[string]any),
	}
	seen := make(map[string]bool)
	for _, m := range matches {
		cfg.Scopes = append(cfg.Scopes, m.scope.Path)
		maps.Copy(cfg.Env, m.scope.Env)
		mergeParams(cfg.Params, m.scope.Params)
		for _, b := range m.scope.Bootstrap {
			if !filepath.IsAbs(b) && r.dir != "" {
				b = filepath.Join(r.dir, b)
			}
			if !seen[b] {
				seen[b] = true
				cfg.Bootstrap = append(cfg.Bootstrap, b)
			}
		}
	}

	r.logger.Debug("resolved environment",
		log.String("class", classPath),
		log.Strings("scopes", cfg.Scopes),
	)
	r.cache[classPath] = cfg
	return cfg.clone(), nil
}

func (r *Resolver) load() error {
	if r.loaded {
		return nil
	}
	data, err := os.ReadFile(r.file)
	if err != nil {
		return fmt.Errorf("read env config: %w", err)
	}
	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse env config %s: %w", r.file, err)
	}
	for _, s := range doc.Scopes {
		if isGlob(s.Path) && !doublestar.ValidatePattern(normalize(s.Path)) {
			return fmt.Errorf("%w: bad pattern %q", ErrInvalidScope, s.Path)
		}
	}
	r.scopes = doc.Scopes
	r.loaded = true
	r.logger.Info("loaded env config",
		log.String("file", r.file),
		log.Int("scopes", len(doc.Scopes)),
	)
	return nil
}

func normalize(p string) string {
	p = filepath.ToSlash(strings.TrimSpace(p))
	if p == "" {
		return "."
	}
	return strings.TrimPrefix(path.Clean(p), "/")
}

func isGlob(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}

func depth(scopePath string) int {
	p := normalize(scopePath)
	if p == "." || p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

// matchScope reports whether the scope path applies to classPath. Globs match
// the class path or any of its parent directories.
func matchScope(scopePath, classPath string) (bool, error) {
	p := normalize(scopePath)
	if p == "." || p == "" {
		return true, nil
	}

	if !isGlob(p) {
		return classPath == p || strings.HasPrefix(classPath, p+"/"), nil
	}

	for cur := classPath; cur != "." && cur != "/" && cur != ""; cur = path.Dir(cur) {
		ok, err := doublestar.Match(p, cur)
		if err != nil {
			return false, fmt.Errorf("%w: %q: %w", ErrInvalidScope, scopePath, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// mergeParams deep-merges src into dst. Nested tables merge; other values
// replace.
func mergeParams(dst, src map[string]any) {
	for k, v := range src {
		sm, srcIsMap := v.(map[string]any)
		dm, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			mergeParams(dm, sm)
			continue
		}
		if srcIsMap {
			dst[k] = deepCopy(sm)
			continue
		}
		dst[k] = v
	}
}

func deepCopy(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sub, ok := v.(map[string]any); ok {
			out[k] = deepCopy(sub)
			continue
		}
		out[k] = v
	}
	return out
}

// MergeParams deep-merges src into dst.
func MergeParams(dst, src map[string]any) { mergeParams(dst, src) }
