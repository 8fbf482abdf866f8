package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	p := NewHTMLParser()

	tests := []struct {
		name string
		html string
		want string
	}{
		{"empty", "", ""},
		{"paragraphs", "<p>Hello</p><p>World</p>", "Hello\nWorld"},
		{"drops script and style", "<style>p{}</style><script>x()</script><div>Order   #42</div>", "Order #42"},
		{"invisible characters", "<p>Your\u200b code</p>", "Your code"},
		{"list", "<ul><li>one</li><li>two</li></ul>", "one\ntwo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Parse(tt.html)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSnippet(t *testing.T) {
	p := NewHTMLParser()

	assert.Equal(t, "short", p.Snippet("  short  ", 10))
	assert.Equal(t, "abc…", p.Snippet("abcdef", 3))
	assert.Equal(t, "héé…", p.Snippet("hééllo", 3), "cuts on runes")
	assert.Equal(t, "a\nb", p.Snippet("a\n\n\n\n b", 0))
}
