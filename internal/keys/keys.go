package keys

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ttab/elephant-versionlog/versioning"
)

// ParseIdentity parses "column=value" pairs into a record identity. Values
// are converted to the type of the column in the live table.
func ParseIdentity(
	cfg versioning.Config, pairs []string,
) (versioning.Identity, error) {
	ident := make(versioning.Identity, len(pairs))

	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf(
				"invalid key %q, expected column=value", pair)
		}

		col, ok := cfg.Live().Column(name)
		if !ok {
			return nil, fmt.Errorf("unknown column %q in %q",
				name, cfg.Live().Name)
		}

		v, err := parseKeyValue(col, raw)
		if err != nil {
			return nil, err
		}

		ident[name] = v
	}

	for _, name := range cfg.Identity() {
		if _, ok := ident[name]; !ok {
			return nil, fmt.Errorf("missing value for identity column %q", name)
		}
	}

	return ident, nil
}

func parseKeyValue(col versioning.Column, raw string) (any, error) {
	switch col.Type {
	case versioning.TypeInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer for %q: %w", col.Name, err)
		}

		return n, nil
	case versioning.TypeFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number for %q: %w", col.Name, err)
		}

		return f, nil
	case versioning.TypeBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid boolean for %q: %w", col.Name, err)
		}

		return b, nil
	}

	v, err := versioning.ParseColumnValue(col, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid key value: %w", err)
	}

	return v, nil
}

// Selector creates a selector from version and log ID values, negative
// values are treated as unset.
func Selector(version int64, logID int64) versioning.Selector {
	var sel versioning.Selector

	if version >= 0 {
		sel.Version = &version
	}

	if logID >= 0 {
		sel.LogID = &logID
	}

	return sel
}
