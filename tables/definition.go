package tables

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/ttab/elephant-versionlog/internal"
	"github.com/ttab/elephant-versionlog/postgres"
	"github.com/ttab/elephant-versionlog/versioning"
)

// Definition declares how a table is versioned.
type Definition struct {
	Table string `json:"table"`
	// Archive defaults to the table name with a "_log" suffix.
	Archive  string   `json:"archive,omitempty"`
	Identity []string `json:"identity"`
	Ignore   []string `json:"ignore,omitempty"`
	// Normalizers are expressions, keyed by column name, that are
	// evaluated with the live value as "value".
	Normalizers map[string]string `json:"normalizers,omitempty"`
}

// LoadDefinitions reads a JSON file with a list of table definitions.
func LoadDefinitions(path string) ([]Definition, error) {
	var defs []Definition

	err := internal.UnmarshalFile(path, &defs)
	if err != nil {
		return nil, fmt.Errorf("load table definitions: %w", err)
	}

	seen := make(map[string]bool, len(defs))

	for i := range defs {
		err := defs[i].normalize()
		if err != nil {
			return nil, fmt.Errorf("definition %d: %w", i+1, err)
		}

		if seen[defs[i].Table] {
			return nil, fmt.Errorf("%q is defined more than once",
				defs[i].Table)
		}

		seen[defs[i].Table] = true
	}

	return defs, nil
}

func (d *Definition) normalize() error {
	if d.Table == "" {
		return errors.New("missing table name")
	}

	if len(d.Identity) == 0 {
		return fmt.Errorf("no identity columns for %q", d.Table)
	}

	if d.Archive == "" {
		d.Archive = d.Table + "_log"
	}

	return nil
}

// RegisterOptions compiles the normalizers of the definition.
func (d Definition) RegisterOptions() (postgres.RegisterOptions, error) {
	opts := postgres.RegisterOptions{
		Live:        d.Table,
		Archive:     d.Archive,
		Identity:    d.Identity,
		Ignore:      d.Ignore,
		Normalizers: make(map[string]versioning.Normalizer, len(d.Normalizers)),
	}

	if opts.Archive == "" {
		opts.Archive = d.Table + "_log"
	}

	for column, expression := range d.Normalizers {
		fn, err := CompileNormalizer(expression)
		if err != nil {
			return postgres.RegisterOptions{}, fmt.Errorf(
				"normalizer for %q: %w", column, err)
		}

		opts.Normalizers[column] = fn
	}

	return opts, nil
}

type normalizerEnv struct {
	Value any `expr:"value"`
}

// CompileNormalizer compiles an expression, like `lower(trim(value))`,
// into a normalizer.
func CompileNormalizer(expression string) (versioning.Normalizer, error) {
	program, err := expr.Compile(expression,
		expr.Env(normalizerEnv{}),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"compile the expression %q: %w", expression, err)
	}

	return func(v any) (any, error) {
		return runNormalizer(program, v)
	}, nil
}

func runNormalizer(program *vm.Program, v any) (any, error) {
	out, err := expr.Run(program, normalizerEnv{Value: v})
	if err != nil {
		return nil, fmt.Errorf("evaluate normalizer: %w", err)
	}

	return out, nil
}

type Registrar interface {
	Register(
		ctx context.Context, opts postgres.RegisterOptions,
	) (versioning.Config, error)
}

var _ Registrar = &postgres.Introspector{}

// Registry holds the validated configuration of a set of tables.
type Registry struct {
	configs map[string]versioning.Config
}

// RegisterAll validates all defined tables, the first failure is returned.
func RegisterAll(
	ctx context.Context, r Registrar, defs []Definition,
) (*Registry, error) {
	reg := Registry{
		configs: make(map[string]versioning.Config, len(defs)),
	}

	for _, def := range defs {
		opts, err := def.RegisterOptions()
		if err != nil {
			return nil, fmt.Errorf("table %q: %w", def.Table, err)
		}

		cfg, err := r.Register(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("register %q: %w", def.Table, err)
		}

		reg.configs[def.Table] = cfg
	}

	return &reg, nil
}

func (r *Registry) Get(table string) (versioning.Config, bool) {
	cfg, ok := r.configs[table]

	return cfg, ok
}

// Names returns the names of the registered tables in sorted order.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.configs))
}
