package textmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignificantWords(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Chicken Breast", []string{"chicken", "breast"}},
		{"  of  an  egg ", []string{"egg"}},
		{"a to", []string{}},
		{"", []string{}},
		{"piña colada", []string{"piña", "colada"}},
		{"Mānuka\thoney", []string{"mānuka", "honey"}},
		{"né été", []string{"été"}},
		{"\U0001F95Aa", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SignificantWords(tt.in))
		})
	}
}

// The gate, the history matcher and the scoring stage all read words through
// SignificantWords, so the rules below pin the behaviour for every caller.
func TestSharedTokenizer_Callers(t *testing.T) {
	words := SignificantWords("Chicken Breast")

	// gate: any word
	assert.True(t, ContainsAny("Pams Chicken Thighs", words))
	assert.True(t, IsRelevant("Pams Chicken Thighs", "Chicken Breast"))

	// history matcher: all words
	assert.False(t, ContainsAll("Pams Chicken Thighs", words))
	assert.True(t, ContainsAll("Pams Chicken Breast Fillets", words))

	// short words never count
	assert.False(t, IsRelevant("Pams Chicken", "of a"))
	assert.False(t, ContainsAll("anything", SignificantWords("of a")))
}

func TestIsRelevant(t *testing.T) {
	tests := []struct {
		name    string
		product string
		term    string
		want    bool
	}{
		{"word overlap", "Vogels Toast Bread", "bread", true},
		{"no overlap", "Scotch Fillet Steak", "schnitzel", false},
		{"case insensitive", "PAMS COCONUT MILK", "coconut milk", true},
		{"substring of a word", "Breadcrumbs Panko", "bread", true},
		{"empty term", "Anything", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRelevant(tt.product, tt.term))
		})
	}
}

func TestOverlapsCategory(t *testing.T) {
	assert.True(t, OverlapsCategory("Anchor Blue Milk", "milk"))
	assert.True(t, OverlapsCategory("Tomatoes Loose", "tomato"))
	assert.False(t, OverlapsCategory("Pomegranate Each", "berries"))
	assert.False(t, OverlapsCategory("Telegraph Cucumber", "tomatoes"))
	assert.True(t, OverlapsCategory("Beef Schnitzel", "beef steaks & schnitzel"))
}
