package synckit

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"equal", []any{"a", "b"}, []any{"a", "b"}, true},
		{"both empty", []any{}, []any{}, true},
		{"order matters", []any{"a", "b"}, []any{"b", "a"}, false},
		{"length matters", []any{"a"}, []any{"a", "a"}, false},
		{"nested objects by value", []any{map[string]any{"k": "v"}}, []any{map[string]any{"k": "v"}}, true},
		{"nested objects differ", []any{map[string]any{"k": "v"}}, []any{map[string]any{"k": "w"}}, false},
		{"typed slices", []string{"x"}, []any{"x"}, true},
		{"sequence vs scalar", []any{"a"}, "a", false},
		{"sequence vs nil", []any{}, nil, false},
		{"nil vs nil", nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SequenceEqual(tt.a, tt.b))
		})
	}
}

func TestFieldEqual(t *testing.T) {
	assert.True(t, FieldEqual("a", "a"))
	assert.False(t, FieldEqual("a", "b"))
	assert.True(t, FieldEqual(nil, nil))
	assert.False(t, FieldEqual(nil, "a"))
	assert.True(t, FieldEqual(true, true))
	assert.False(t, FieldEqual([]any{}, nil), "empty list is not the same as absent")
	assert.True(t, FieldEqual(map[string]any{"a": 1.0}, map[string]any{"a": 1.0}))
}

func TestDiffFields(t *testing.T) {
	stored := Document{
		"userId":         "u1",
		"displayName":    "Ada",
		"businessPhones": []any{"1", "2"},
		"jobTitle":       nil,
		"legacy":         "only stored",
	}

	tests := []struct {
		name      string
		candidate Document
		want      Document
	}{
		{
			name: "identical",
			candidate: Document{
				"userId":         "u1",
				"displayName":    "Ada",
				"businessPhones": []any{"1", "2"},
				"jobTitle":       nil,
			},
			want: Document{},
		},
		{
			name: "scalar change",
			candidate: Document{
				"userId":      "u1",
				"displayName": "Ada L.",
			},
			want: Document{"displayName": "Ada L."},
		},
		{
			name: "reordered sequence",
			candidate: Document{
				"businessPhones": []any{"2", "1"},
			},
			want: Document{"businessPhones": []any{"2", "1"}},
		},
		{
			name: "null to value",
			candidate: Document{
				"jobTitle": "Engineer",
			},
			want: Document{"jobTitle": "Engineer"},
		},
		{
			name: "field missing from stored",
			candidate: Document{
				"officeLocation": nil,
			},
			want: Document{"officeLocation": nil},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DiffFields(stored, tt.candidate)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("DiffFields mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCanonicalize(t *testing.T) {
	doc, err := Canonicalize(Document{
		"n":    3,
		"list": []string{"a"},
		"obj":  map[string]string{"k": "v"},
	})
	require.NoError(t, err)
	assert.Equal(t, Document{
		"n":    float64(3),
		"list": []any{"a"},
		"obj":  map[string]any{"k": "v"},
	}, doc)

	doc, err = Canonicalize(nil)
	require.NoError(t, err)
	assert.Nil(t, doc)

	_, err = Canonicalize(Document{"bad": make(chan int)})
	assert.Error(t, err)
}
