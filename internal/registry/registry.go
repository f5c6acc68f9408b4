// Package registry implements the Language Registry (C1): a
// process-wide, read-only-after-startup lookup from a user-supplied
// language token to an immutable execution recipe.
//
// The table itself is data (recipes.yaml), not code — Design Note
// "Registry as data": adding a language is a one-row change.
package registry

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"

	"github.com/IMMZEK/codeexec/internal/limits"
)

//go:embed recipes.yaml
var recipesYAML []byte

// Recipe is the immutable execution plan for one language (spec.md §3).
type Recipe struct {
	Name           string
	Label          string
	Image          string
	SourceFilename string
	Compile        []string // nil when the language is interpreted
	Run            []string
	DefaultLimits  *limits.Override
}

// Info is the public, image-free view of a Recipe used by list().
type Info struct {
	Name  string
	Label string
}

// UnsupportedLanguageError is returned by Lookup for an unknown token.
type UnsupportedLanguageError struct {
	Token string
}

func (e *UnsupportedLanguageError) Error() string {
	return fmt.Sprintf("unsupported language: %q", e.Token)
}

// Registry is the read-only, process-wide language table.
type Registry struct {
	byName map[string]Recipe
	order  []string // canonical names in declaration order, for List()
}

type yamlRecipe struct {
	Name           string             `yaml:"name"`
	Label          string             `yaml:"label"`
	Aliases        []string           `yaml:"aliases"`
	Image          string             `yaml:"image"`
	SourceFilename string             `yaml:"source_filename"`
	Compile        []string           `yaml:"compile"`
	Run            []string           `yaml:"run"`
	DefaultLimits  *yamlDefaultLimits `yaml:"default_limits"`
}

// yamlDefaultLimits is recipes.yaml's wire shape for a recipe's
// default_limits: a sparse subset of limits.Override's fields,
// milliseconds rather than time.Duration since YAML has no duration
// type.
type yamlDefaultLimits struct {
	CPUMs        *int64 `yaml:"cpu_ms"`
	WallMs       *int64 `yaml:"wall_ms"`
	MemoryBytes  *int64 `yaml:"memory_bytes"`
	StackBytes   *int64 `yaml:"stack_bytes"`
	MaxProcesses *int64 `yaml:"max_processes"`
	MaxOpenFiles *int64 `yaml:"max_open_files"`
}

func (y *yamlDefaultLimits) toOverride() *limits.Override {
	if y == nil {
		return nil
	}
	o := &limits.Override{
		MemoryBytes:  y.MemoryBytes,
		StackBytes:   y.StackBytes,
		MaxProcesses: y.MaxProcesses,
		MaxOpenFiles: y.MaxOpenFiles,
	}
	if y.CPUMs != nil {
		d := time.Duration(*y.CPUMs) * time.Millisecond
		o.CPUTime = &d
	}
	if y.WallMs != nil {
		d := time.Duration(*y.WallMs) * time.Millisecond
		o.WallTime = &d
	}
	return o
}

type yamlDoc struct {
	Languages []yamlRecipe `yaml:"languages"`
}

// New parses the embedded recipe table and applies any overrides found
// in the LANG_RECIPE_OVERRIDES environment-style string: a `;`-separated
// list of `name=shell command` pairs, each tokenized with google/shlex
// and substituted for that language's run command. Pass "" for no
// overrides.
func New(overrides string) (*Registry, error) {
	var doc yamlDoc
	if err := yaml.Unmarshal(recipesYAML, &doc); err != nil {
		return nil, fmt.Errorf("parse language registry: %w", err)
	}

	reg := &Registry{byName: make(map[string]Recipe, len(doc.Languages)*2)}
	for _, yr := range doc.Languages {
		recipe := Recipe{
			Name:           yr.Name,
			Label:          yr.Label,
			Image:          yr.Image,
			SourceFilename: yr.SourceFilename,
			Compile:        yr.Compile,
			Run:            yr.Run,
			DefaultLimits:  yr.DefaultLimits.toOverride(),
		}
		reg.byName[normalize(yr.Name)] = recipe
		reg.order = append(reg.order, yr.Name)
		for _, alias := range yr.Aliases {
			reg.byName[normalize(alias)] = recipe
		}
	}

	if err := reg.applyOverrides(overrides); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *Registry) applyOverrides(overrides string) error {
	if strings.TrimSpace(overrides) == "" {
		return nil
	}
	for _, pair := range strings.Split(overrides, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, cmd, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("malformed recipe override %q: expected name=command", pair)
		}
		tokens, err := shlex.Split(cmd)
		if err != nil {
			return fmt.Errorf("malformed recipe override command for %q: %w", name, err)
		}
		key := normalize(name)
		recipe, ok := r.byName[key]
		if !ok {
			return fmt.Errorf("recipe override for unknown language %q", name)
		}
		recipe.Run = tokens
		r.byName[key] = recipe
	}
	return nil
}

// normalize implements the case-insensitive, whitespace-trimmed token
// matching spec.md §4.1 requires of Lookup.
func normalize(token string) string {
	return strings.ToLower(strings.TrimSpace(token))
}

// Lookup resolves a user-supplied language token to its Recipe.
func (r *Registry) Lookup(token string) (Recipe, error) {
	recipe, ok := r.byName[normalize(token)]
	if !ok {
		return Recipe{}, &UnsupportedLanguageError{Token: token}
	}
	return recipe, nil
}

// List returns the registry's public view: canonical names and human
// labels, in declaration order, without exposing image identifiers.
func (r *Registry) List() []Info {
	out := make([]Info, 0, len(r.order))
	for _, name := range r.order {
		recipe := r.byName[normalize(name)]
		out = append(out, Info{Name: recipe.Name, Label: recipe.Label})
	}
	return out
}

// NeedsCompile reports whether a Recipe has a compile phase.
func (r Recipe) NeedsCompile() bool {
	return len(r.Compile) > 0
}
