package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderer(t *testing.T) {
	r := NewRenderer()

	out, err := r.Render("1. **Hold** reset\n2. Wait")
	require.NoError(t, err)
	assert.Contains(t, out, "<ol>")
	assert.Contains(t, out, "<strong>Hold</strong>")

	out, err = r.Render("hello <script>alert(1)</script> [x](javascript:alert(1))")
	require.NoError(t, err)
	assert.NotContains(t, out, "<script>")
	assert.NotContains(t, out, "javascript:")
}

func TestRenderer_Tables(t *testing.T) {
	out, err := NewRenderer().Render("| a | b |\n|---|---|\n| 1 | 2 |")
	require.NoError(t, err)
	assert.Contains(t, out, "<table>")
}
