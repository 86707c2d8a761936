package masking

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyRedactsMatchingKeys(t *testing.T) {
	row := map[string]any{
		"name":            "Alice",
		"customer_email":  "a@x",
		"customer_phone":  "555-1",
		"ssn":             "111-11-1111",
		"credit_card":     "4111",
	}

	masked := Apply(row, []string{"customer_email", "customer_phone"})

	require.Equal(t, map[string]any{
		"name":           "Alice",
		"customer_email": Redacted,
		"customer_phone": Redacted,
		"ssn":             "111-11-1111",
		"credit_card":     "4111",
	}, masked)
}

func TestApplyRecursesIntoNestedShapes(t *testing.T) {
	value := map[string]any{
		"rows": []any{
			map[string]any{"email": "a@x", "name": "A"},
			map[string]any{"email": "b@x", "name": "B"},
		},
	}
	masked := Apply(value, []string{"email"})
	rows := masked.(map[string]any)["rows"].([]any)
	require.Equal(t, Redacted, rows[0].(map[string]any)["email"])
	require.Equal(t, Redacted, rows[1].(map[string]any)["email"])
	require.Equal(t, "A", rows[0].(map[string]any)["name"])
}

func TestApplyNeverShortensListsOrDropsKeys(t *testing.T) {
	value := map[string]any{
		"list": []any{1, 2, 3},
		"ssn":  "111",
	}
	masked := Apply(value, []string{"ssn"}).(map[string]any)
	require.Len(t, masked["list"], 3)
	require.Contains(t, masked, "ssn")
	require.Contains(t, masked, "list")
}

func TestApplyRecursesIntoNativeAdapterRowShape(t *testing.T) {
	// The exact shape RelationalAdapter.sqlQuery returns: a
	// map[string]any wrapping a native []map[string]any, not the
	// []any a JSON round-trip would produce.
	value := map[string]any{
		"rows": []map[string]any{
			{"customer_email": "a@x", "name": "A"},
			{"customer_email": "b@x", "name": "B"},
		},
		"row_count": 2,
	}

	masked := Apply(value, []string{"customer_email"}).(map[string]any)
	rows := masked["rows"].([]any)
	require.Equal(t, Redacted, rows[0].(map[string]any)["customer_email"])
	require.Equal(t, Redacted, rows[1].(map[string]any)["customer_email"])
	require.Equal(t, "A", rows[0].(map[string]any)["name"])
	require.Equal(t, 2, masked["row_count"])
}

func TestApplyWithNoFieldsIsIdentity(t *testing.T) {
	value := map[string]any{"a": 1}
	require.Equal(t, value, Apply(value, nil))
}

func TestApplyPassesThroughPrimitives(t *testing.T) {
	require.Equal(t, 42, Apply(42, []string{"x"}))
	require.Equal(t, "hello", Apply("hello", []string{"x"}))
	require.Nil(t, Apply(nil, []string{"x"}))
}
