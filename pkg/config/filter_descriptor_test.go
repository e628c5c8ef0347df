package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilterDescriptor_Empty(t *testing.T) {
	t.Parallel()
	d, err := ParseFilterDescriptor("")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestParseFilterDescriptor_ValidDescriptor(t *testing.T) {
	t.Parallel()
	d, err := ParseFilterDescriptor(`{"kind":"scope-based","args":{"match_filter":"true"}}`)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "scope-based", d.Kind)
	assert.Equal(t, "true", d.Args["match_filter"])
}

func TestParseFilterDescriptor_MissingKind(t *testing.T) {
	t.Parallel()
	_, err := ParseFilterDescriptor(`{"args":{}}`)
	require.Error(t, err)
}

func TestParseFilterDescriptor_MalformedJSON(t *testing.T) {
	t.Parallel()
	_, err := ParseFilterDescriptor(`{not json`)
	require.Error(t, err)
}
