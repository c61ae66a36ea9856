package parse

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	testCases := []struct {
		name     string
		raw      string
		expected string
	}{
		{name: "Person suffix", raw: "Store A - John", expected: "Store A"},
		{name: "Guest suffix", raw: "Store A + add a guest", expected: "Store A"},
		{name: "Guest suffix without spaces", raw: "Store A+1", expected: "Store A"},
		{name: "Leading and trailing dash", raw: "  - Store B -  ", expected: "Store B"},
		{name: "Collapses whitespace", raw: "Store\t\tC   Lyon", expected: "Store C Lyon"},
		{name: "Hyphenated name kept", raw: "Saint-Germain", expected: "Saint-Germain"},
		{name: "Dash before guest delimiter", raw: "Store D - + guest", expected: "Store D"},
		{name: "Plain label", raw: "Store E", expected: "Store E"},
		{name: "Only delimiter falls back", raw: "+ add a guest", expected: "+ add a guest"},
		{name: "Only dash falls back", raw: " - ", expected: "-"},
		{name: "Empty", raw: "", expected: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Normalize(tc.raw))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("ab AZé-+ \t\n_.")

	for i := 0; i < 5000; i++ {
		n := rng.Intn(20)
		rs := make([]rune, n)
		for j := range rs {
			rs[j] = alphabet[rng.Intn(len(alphabet))]
		}
		s := string(rs)
		once := Normalize(s)
		assert.Equal(t, once, Normalize(once), "input %q", s)
	}
}

func TestNormalize_ScenarioGroupsShareKey(t *testing.T) {
	assert.Equal(t, Normalize("Store A - John"), Normalize("Store A + add a guest"))
}

func TestGroupLabel(t *testing.T) {
	assert.Equal(t, "Store A", GroupLabel("John", "Store A"))
	assert.Equal(t, "Store A - John", GroupLabel("Store A - John", "  "))
}

func TestIsPlaceholder(t *testing.T) {
	for _, s := range []string{"", " ", "0", "N/A", "Unknown", "unassigned"} {
		assert.True(t, IsPlaceholder(s), s)
	}
	for _, s := range []string{"12", "Store A - John"} {
		assert.False(t, IsPlaceholder(s), s)
	}
}
