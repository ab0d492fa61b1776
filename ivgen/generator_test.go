package ivgen_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandeepkiranp/pd-linux/ivgen"
)

func TestPlainGeneratorDeterministic(t *testing.T) {
	g, err := ivgen.New(ivgen.Plain, 0)
	require.NoError(t, err)

	iv1, err := g.Generate(42)
	require.NoError(t, err)
	iv2, err := g.Generate(42)
	require.NoError(t, err)
	require.Equal(t, iv1, iv2)

	iv3, err := g.Generate(43)
	require.NoError(t, err)
	require.NotEqual(t, iv1, iv3)
}

func TestNullGeneratorAlwaysZero(t *testing.T) {
	g, err := ivgen.New(ivgen.Null, 0)
	require.NoError(t, err)
	iv, err := g.Generate(1234)
	require.NoError(t, err)
	require.Equal(t, [16]byte{}, iv)
}

func TestESSIVRequiresInit(t *testing.T) {
	g, err := ivgen.New(ivgen.ESSIV, 0)
	require.NoError(t, err)
	_, err = g.Generate(1)
	require.Error(t, err)

	init, ok := g.(ivgen.Initializer)
	require.True(t, ok)
	require.NoError(t, init.Init([]byte("0123456789abcdef")))

	iv, err := g.Generate(1)
	require.NoError(t, err)
	require.NotEqual(t, [16]byte{}, iv)
}

func TestElephantPostProcessesBaseIV(t *testing.T) {
	g, err := ivgen.New(ivgen.Elephant, 0)
	require.NoError(t, err)
	base, err := g.Generate(9)
	require.NoError(t, err)

	pp, ok := g.(ivgen.PostProcessor)
	require.True(t, ok)
	post, err := pp.Post(base, 9)
	require.NoError(t, err)
	require.NotEqual(t, base, post)
}

func TestUnknownFamilyErrors(t *testing.T) {
	_, err := ivgen.New("bogus", 0)
	require.Error(t, err)
}
