package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"wikifolio", "price", "portfolio", "trades", "search", "user", "orders", "buy", "sell", "cancel"} {
		assert.Contains(t, names, want)
	}
}

func TestPlaceCmd_RequiredFlags(t *testing.T) {
	root := newRootCmd()
	buy, _, err := root.Find([]string{"buy"})
	require.NoError(t, err)

	for _, name := range []string{"amount", "isin"} {
		f := buy.Flags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, []string{"true"}, f.Annotations["cobra_annotation_bash_completion_one_required_flag"], name)
	}
	assert.Equal(t, "quote", buy.Flags().Lookup("type").DefValue)
}

func TestPriceFlag(t *testing.T) {
	var p priceFlag
	assert.Equal(t, "", p.String())
	assert.Equal(t, "decimal", p.Type())

	require.NoError(t, p.Set("123.45"))
	require.NotNil(t, p.value)
	assert.Equal(t, "123.45", p.String())

	assert.Error(t, p.Set("abc"))
	assert.Equal(t, "123.45", p.String())
}
