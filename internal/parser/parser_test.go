package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_RewritesLegacyLinks(t *testing.T) {
	in := "See [[project]] and [[https://example.com/a]]."
	got := Normalize(in)
	assert.Equal(t, "See {{project}} and [[https://example.com/a]].", got)
}

func TestNormalize_URLMarkerBackToBrackets(t *testing.T) {
	in := "Ref {{http://example.com}} and {{www.example.org}} and {{keep}}"
	got := Normalize(in)
	assert.Equal(t, "Ref [[http://example.com]] and [[www.example.org]] and {{keep}}", got)
}

func FuzzNormalize_Idempotent(f *testing.F) {
	for _, seed := range []string{
		"",
		"plain text without markers",
		"[[a]] [[b c]] {{d}}",
		"[[https://x.y]] {{ftp://files.example}} [[mailto:me@example.com]]",
		"nested [[{{x}}]] and {{[[y]]}}",
		"[[]] {{}} [[ ]]",
		"[[a|alias]] {{www.site.com|label}}",
		"{{www.a [[b]] }}",
		"{{http://x.io/[[y]]}}",
		"[[k{{www.a}}]]",
		"{[[k]]} [{{www.a}}]",
	} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, in string) {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Fatalf("Normalize(%q) = %q, then %q", in, once, twice)
		}
	})
}

func TestNormalize_URLBodyWithBracketsUntouched(t *testing.T) {
	for _, in := range []string{"{{www.a [[b]] }}", "{{http://x.io/[[y]]}}", "[[k{{www.a}}]]"} {
		assert.Equal(t, in, Normalize(in))
	}
}

func TestNormalize_EmptyBracketsUntouched(t *testing.T) {
	assert.Equal(t, "[[]] and [[  ]]", Normalize("[[]] and [[  ]]"))
}

func TestExtract_Basic(t *testing.T) {
	got := Extract("{{zeta}} text {{alpha}} again {{ zeta }} {{beta|Beta label}}")
	assert.Equal(t, []string{"alpha", "beta", "zeta"}, got)
}

func TestExtract_NoMarkers(t *testing.T) {
	got := Extract("nothing here [[legacy]]")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestExtract_SkipsEmptyAndURLs(t *testing.T) {
	got := Extract("{{}} {{   }} {{https://example.com}} {{ok}}")
	assert.Equal(t, []string{"ok"}, got)
}

func TestHasMarker(t *testing.T) {
	assert.True(t, HasMarker("body {{ idea }}", "idea"))
	assert.False(t, HasMarker("body [[idea]]", "idea"))
	assert.Equal(t, "{{idea}}", Marker("idea"))
}
