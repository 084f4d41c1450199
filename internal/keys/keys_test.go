package keys

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/ttab/elephant-versionlog/versioning"
	"github.com/ttab/elephantine/test"
)

type uniqueEverywhere struct{}

func (uniqueEverywhere) HasUniqueConstraint(
	_ context.Context, _ string, _ []string,
) (bool, error) {
	return true, nil
}

func shipmentConfig(t *testing.T) versioning.Config {
	t.Helper()

	cfg, err := versioning.Register(test.Context(t), versioning.RegisterRequest{
		Live: versioning.TableSchema{
			Name: "shipments",
			Columns: []versioning.Column{
				{Name: "depot", Type: versioning.TypeInteger},
				{Name: "ref", Type: versioning.TypeUUID},
				{Name: "shipped", Type: versioning.TypeTimestamp},
				{Name: "weight", Type: versioning.TypeFloat},
				{Name: "fragile", Type: versioning.TypeBoolean},
			},
		},
		Archive: versioning.TableSchema{
			Name: "shipments_log",
			Columns: []versioning.Column{
				{Name: "log_id", Type: versioning.TypeInteger},
				{Name: "depot", Type: versioning.TypeInteger},
				{Name: "ref", Type: versioning.TypeUUID},
				{Name: "version", Type: versioning.TypeInteger},
				{Name: "deleted", Type: versioning.TypeBoolean},
				{Name: "updated_at", Type: versioning.TypeTimestamp},
				{Name: "data", Type: versioning.TypeJSON},
				{Name: "actor", Type: versioning.TypeText, Nullable: true},
			},
		},
		Identity: []string{"depot", "ref"},
	}, uniqueEverywhere{})
	test.Must(t, err, "register shipments")

	return cfg
}

func TestParseIdentity(t *testing.T) {
	cfg := shipmentConfig(t)
	ref := uuid.MustParse("1a8c4e5e-5b8e-4a4b-9a53-43e6f3d7c0de")

	ident, err := ParseIdentity(cfg, []string{
		"depot=12",
		"ref=" + ref.String(),
	})
	test.Must(t, err, "parse identity")

	want := versioning.Identity{
		"depot": int64(12),
		"ref":   ref,
	}

	if diff := cmp.Diff(want, ident); diff != "" {
		t.Errorf("ParseIdentity() mismatch (-want +got):\n%s", diff)
	}

	failures := map[string][]string{
		"missing identity column": {"depot=12"},
		"not a pair":              {"depot", "ref=" + ref.String()},
		"unknown column":          {"depot=1", "ref=" + ref.String(), "colour=red"},
		"invalid integer":         {"depot=twelve", "ref=" + ref.String()},
		"invalid uuid":            {"depot=12", "ref=nope"},
	}

	for name, pairs := range failures {
		_, err := ParseIdentity(cfg, pairs)
		test.MustNot(t, err, "parse identity with %s", name)
	}
}

func TestParseKeyValue(t *testing.T) {
	cfg := shipmentConfig(t)

	cases := map[string]struct {
		Raw  string
		Want any
	}{
		"shipped": {
			Raw:  "2024-03-01T12:00:00Z",
			Want: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		"weight":  {Raw: "2.5", Want: 2.5},
		"fragile": {Raw: "true", Want: true},
	}

	for name, c := range cases {
		col, ok := cfg.Live().Column(name)
		if !ok {
			t.Fatalf("no %q column", name)
		}

		got, err := parseKeyValue(col, c.Raw)
		test.Must(t, err, "parse %q value", name)

		if diff := cmp.Diff(c.Want, got); diff != "" {
			t.Errorf("parseKeyValue(%q) mismatch (-want +got):\n%s",
				name, diff)
		}
	}
}

func TestSelector(t *testing.T) {
	sel := Selector(3, -1)

	test.Equal(t, "version=3", sel.String(), "select by version")

	sel = Selector(-1, 42)

	test.Equal(t, "log_id=42", sel.String(), "select by log ID")

	sel = Selector(-1, -1)

	test.Equal(t, "none", sel.String(), "select nothing")
}
