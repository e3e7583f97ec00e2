package config

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownKey_TopLevel(t *testing.T) {
	path := writeTestConfig(t, `unknown_section = "value"`)
	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
}

func TestLoad_UnknownKey_TypoInFlatKey(t *testing.T) {
	path := writeTestConfig(t, `defalt_safety_threshold = 4`)
	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.Contains(t, err.Error(), "default_safety_threshold")
}

func TestLoad_UnknownKey_TypoInFilter(t *testing.T) {
	path := writeTestConfig(t, `ignore_markr = ".ignore"`)
	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ignore_marker")
}

func TestLoad_UnknownKey_NoSuggestion(t *testing.T) {
	path := writeTestConfig(t, `completely_unrelated_key = true`)
	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"ignore_markr", "ignore_marker", 1},
		{"defalt_safety_threshold", "default_safety_threshold", 1},
		{"completely_different", "xyz", 19},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.expected, levenshtein(tt.a, tt.b))
		})
	}
}

func TestClosestMatch_Found(t *testing.T) {
	known := []string{"skip_dotfiles", "skip_symlinks", "ignore_marker"}
	assert.Equal(t, "ignore_marker", closestMatch("ignore_markr", known))
	assert.Equal(t, "skip_dotfiles", closestMatch("skip_dotfile", known))
}

func TestClosestMatch_NotFound(t *testing.T) {
	known := []string{"skip_dotfiles", "skip_symlinks"}
	assert.Equal(t, "", closestMatch("completely_unrelated", known))
}

func TestBuildGlobalKeyError_KnownKey(t *testing.T) {
	err := buildGlobalKeyError("log_level")
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "did you mean")
}

func TestBuildGlobalKeyError_UnknownParent_SubField(t *testing.T) {
	err := buildGlobalKeyError("nonexistent_section.field")
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
}

func TestKnownGlobalKeysList_Sorted(t *testing.T) {
	assert.True(t, sort.StringsAreSorted(knownGlobalKeysList),
		"knownGlobalKeysList must be sorted")
}
