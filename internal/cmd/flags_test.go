package cmd

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ttab/elephantine/test"
)

func TestSplitColumns(t *testing.T) {
	got := splitColumns([]string{"market, sku", "", "name", " , "})

	if diff := cmp.Diff([]string{"market", "sku", "name"}, got); diff != "" {
		t.Errorf("splitColumns() mismatch (-want +got):\n%s", diff)
	}

	if splitColumns(nil) != nil {
		t.Error("expected no columns for an empty list")
	}
}

func TestParseNormalizers(t *testing.T) {
	got, err := parseNormalizers([]string{
		"name=trim(value)",
		"status = value == '' ? 'draft' : value",
	})
	test.Must(t, err, "parse normalizers")

	want := map[string]string{
		"name":   "trim(value)",
		"status": "value == '' ? 'draft' : value",
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseNormalizers() mismatch (-want +got):\n%s", diff)
	}

	none, err := parseNormalizers(nil)
	test.Must(t, err, "parse an empty list")
	test.Equal(t, 0, len(none), "return no normalizers")

	_, err = parseNormalizers([]string{"trim(value)"})
	test.MustNot(t, err, "parse a normalizer without a column")

	_, err = parseNormalizers([]string{"name="})
	test.MustNot(t, err, "parse a normalizer without an expression")

	_, err = parseNormalizers([]string{"name=trim(value)", "name=lower(value)"})
	test.MustNot(t, err, "parse duplicate normalizers")
}
