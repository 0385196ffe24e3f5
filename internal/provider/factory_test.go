package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatic_WiresAllThreeDeterministicProviders(t *testing.T) {
	p := NewStatic()

	require.NotNil(t, p.Embedder)
	require.NotNil(t, p.Summarizer)
	require.NotNil(t, p.Generator)

	assert.True(t, p.Embedder.Available(context.Background()))
	assert.True(t, p.Summarizer.Available(context.Background()))
	assert.False(t, p.Generator.Available(context.Background()), "static generator never has a model configured")
}

func TestProviders_Close_ClosesEveryProvider(t *testing.T) {
	p := NewStatic()
	require.NoError(t, p.Close())

	assert.False(t, p.Embedder.Available(context.Background()))
}

func TestProviders_Close_ToleratesNilMembers(t *testing.T) {
	p := &Providers{}
	require.NoError(t, p.Close())
}
