package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTextDropsNonVisible(t *testing.T) {
	doc := `<html><head><title>t 1.1.1.1</title><script>var x="8.8.8.8";</script></head>
<body><p>C2 evil[.]example[.]com</p><div>beacon 9.9.9.9</div>
<style>.a{color:red}</style><noscript>4.4.4.4</noscript></body></html>`

	text, err := ExtractText(doc)
	require.NoError(t, err)
	assert.Contains(t, text, "evil[.]example[.]com")
	assert.Contains(t, text, "beacon 9.9.9.9")
	assert.NotContains(t, text, "8.8.8.8")
	assert.NotContains(t, text, "1.1.1.1")
	assert.NotContains(t, text, "4.4.4.4")
	assert.NotContains(t, text, "color")
}

func TestScanHTMLSeparatesCells(t *testing.T) {
	doc := `<table><tr><td>1.2.3.4</td><td>5.6.7.8</td></tr></table><p>see evil[.]example[.]com</p>`

	text, got, err := NewScanner(nil).ScanHTML(doc)
	require.NoError(t, err)

	var values []string
	for _, o := range got {
		values = append(values, o.RefangedValue)
		assert.Equal(t, o.Value, text[o.StartIndex:o.EndIndex])
	}
	assert.Equal(t, []string{"1.2.3.4", "5.6.7.8", "evil.example.com"}, values)
}
