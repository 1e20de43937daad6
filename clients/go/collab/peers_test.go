package collab

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPeersDecorations(t *testing.T) {
	p := NewPeers()
	p.Update("zoe", Position{LineNumber: 3, Column: 1})
	p.Update("bob", Position{LineNumber: 1, Column: 7})
	p.Update("bob", Position{LineNumber: 2, Column: 4})

	assert.Equal(t, []Decoration{
		{User: "bob", Line: 2, Column: 4, Label: " bob"},
		{User: "zoe", Line: 3, Column: 1, Label: " zoe"},
	}, p.Decorations())

	assert.True(t, p.Remove("zoe"))
	assert.False(t, p.Remove("zoe"))
	assert.Len(t, p.Decorations(), 1)

	p.Clear()
	assert.Empty(t, p.Decorations())
}
