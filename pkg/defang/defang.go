// Package defang converts between the "defanged" spellings analysts use to
// neutralise indicators (evil[.]com, hxxp://, user[@]host) and their
// canonical form.
package defang

import (
	"regexp"
	"strings"
)

var (
	defangedRe = regexp.MustCompile(`(?i)\[\.\]|\(\.\)|\{\.\}|\[@\]|\(@\)|\{@\}|hxxps?|h\[xx\]ps?|\[://\]|\[:\]//|\(:/\)/|meow://`)

	dotRe       = regexp.MustCompile(`\[\.\]|\(\.\)|\{\.\}`)
	atRe        = regexp.MustCompile(`\[@\]|\(@\)|\{@\}`)
	hxxpRe      = regexp.MustCompile(`(?i)hxxp(s?)`)
	bracketHxRe = regexp.MustCompile(`(?i)h\[xx\]p(s?)`)
	meowRe      = regexp.MustCompile(`(?i)meow://`)
	separatorRe = regexp.MustCompile(`\[://\]|\[:\]//|\(:/\)/`)

	schemeRe = regexp.MustCompile(`^http(s?)://`)
)

// Applied in order; the scheme rewrites must run after the dot and at rewrites.
var refangSteps = []struct {
	re   *regexp.Regexp
	repl string
}{
	{dotRe, "."},
	{atRe, "@"},
	{hxxpRe, "http${1}"},
	{bracketHxRe, "http${1}"},
	{meowRe, "http://"},
	{separatorRe, "://"},
}

var dotTokens = []string{"[.]", "(.)", "{.}"}

// IsDefanged reports whether text contains any defanging token.
func IsDefanged(text string) bool {
	return defangedRe.MatchString(text)
}

// Refang returns text with every defanging token replaced by its canonical
// character sequence. Clean text is returned unchanged.
func Refang(text string) string {
	if !IsDefanged(text) {
		return text
	}
	for _, step := range refangSteps {
		text = step.re.ReplaceAllString(text, step.repl)
	}
	return text
}

// GenerateDefangedVariants returns the defanged spellings of a canonical
// value that are commonly seen in reports. The result never contains value
// itself and never contains duplicates.
func GenerateDefangedVariants(value string) []string {
	if value == "" {
		return nil
	}

	seen := map[string]bool{value: true}
	var out []string
	add := func(v string) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}

	if strings.Contains(value, ".") {
		for _, tok := range dotTokens {
			add(strings.ReplaceAll(value, ".", tok))
			add(replaceLast(value, ".", tok))
		}
	}

	if strings.Contains(value, "@") {
		add(strings.ReplaceAll(value, "@", "[@]"))
		add(strings.ReplaceAll(value, "@", "(@)"))
		add(strings.ReplaceAll(strings.ReplaceAll(value, "@", "[@]"), ".", "[.]"))
	}

	if m := schemeRe.FindStringSubmatch(value); m != nil {
		rest := value[len(m[0]):]
		dotted := strings.ReplaceAll(rest, ".", "[.]")
		for _, scheme := range []string{"hxxp", "hXXp"} {
			scheme += m[1]
			add(scheme + "://" + rest)
			add(scheme + "://" + dotted)
			add(scheme + "[://]" + dotted)
		}
	}

	return out
}

func replaceLast(s, old, repl string) string {
	i := strings.LastIndex(s, old)
	if i < 0 {
		return s
	}
	return s[:i] + repl + s[i+len(old):]
}
