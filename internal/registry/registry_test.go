package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := New("")
	require.NoError(t, err)
	return reg
}

func TestLookupNormalizesToken(t *testing.T) {
	reg := newTestRegistry(t)

	recipe, err := reg.Lookup("  PYTHON \n")
	require.NoError(t, err)
	assert.Equal(t, "python", recipe.Name)
}

func TestLookupResolvesAliases(t *testing.T) {
	reg := newTestRegistry(t)

	js, err := reg.Lookup("js")
	require.NoError(t, err)
	assert.Equal(t, "node", js.Name)

	cpp, err := reg.Lookup("c++")
	require.NoError(t, err)
	assert.Equal(t, "cpp", cpp.Name)
}

func TestLookupUnknownToken(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Lookup("rust2")
	require.Error(t, err)
	var unsupported *UnsupportedLanguageError
	require.ErrorAs(t, err, &unsupported)
}

func TestListOmitsImages(t *testing.T) {
	reg := newTestRegistry(t)

	infos := reg.List()
	require.NotEmpty(t, infos)
	for _, info := range infos {
		assert.NotEmpty(t, info.Name)
		assert.NotEmpty(t, info.Label)
	}
}

func TestListThenLookupIsStable(t *testing.T) {
	reg := newTestRegistry(t)

	for _, info := range reg.List() {
		recipe, err := reg.Lookup(info.Name)
		require.NoError(t, err)
		assert.Equal(t, info.Name, recipe.Name)
	}
}

func TestCompiledVsInterpretedClassification(t *testing.T) {
	reg := newTestRegistry(t)

	python, err := reg.Lookup("python")
	require.NoError(t, err)
	assert.False(t, python.NeedsCompile())

	cpp, err := reg.Lookup("cpp")
	require.NoError(t, err)
	assert.True(t, cpp.NeedsCompile())
}

func TestRecipeOverrideAppliesToRunCommand(t *testing.T) {
	reg, err := New(`python=python3.11 main.py --fast`)
	require.NoError(t, err)

	recipe, err := reg.Lookup("python")
	require.NoError(t, err)
	assert.Equal(t, []string{"python3.11", "main.py", "--fast"}, recipe.Run)
}

func TestRecipeOverrideUnknownLanguage(t *testing.T) {
	_, err := New(`nope=echo hi`)
	require.Error(t, err)
}

func TestRecipeOverrideMalformedPair(t *testing.T) {
	_, err := New(`python`)
	require.Error(t, err)
}

func TestRecipeDefaultLimitsParsedForJVMLanguages(t *testing.T) {
	reg := newTestRegistry(t)

	java, err := reg.Lookup("java")
	require.NoError(t, err)
	require.NotNil(t, java.DefaultLimits)
	require.NotNil(t, java.DefaultLimits.WallTime)
	assert.Equal(t, 15*time.Second, *java.DefaultLimits.WallTime)
}

func TestRecipeDefaultLimitsNilWhenUnset(t *testing.T) {
	reg := newTestRegistry(t)

	python, err := reg.Lookup("python")
	require.NoError(t, err)
	assert.Nil(t, python.DefaultLimits)
}
