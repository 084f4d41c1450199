package versioning

import (
	"fmt"
)

// Project converts a live record to the attribute map stored in a snapshot.
// Ignored columns are left out and configured normalizers are applied.
// Numeric values are stored as exact decimal text.
func Project(cfg Config, rec Record, mode ReadMode) (Row, error) {
	for _, c := range rec.Changes {
		if _, ok := cfg.live.Column(c.Column); !ok {
			return nil, Errorf(ErrCodeSchema,
				"change of unknown column %q in %q",
				c.Column, cfg.live.Name)
		}
	}

	row := make(Row, len(cfg.live.Columns))

	for _, col := range cfg.live.Columns {
		if cfg.ignore[col.Name] {
			continue
		}

		v := rec.Value(col.Name, mode)

		norm, ok := cfg.normalizers[col.Name]
		if ok && v != nil {
			nv, err := norm(v)
			if err != nil {
				return nil, fmt.Errorf(
					"normalize %q value: %w", col.Name, err)
			}

			v = nv
		}

		if col.Type == TypeNumeric {
			nv, err := NumericText(col, v)
			if err != nil {
				return nil, err
			}

			v = nv
		}

		row[col.Name] = v
	}

	return row, nil
}
