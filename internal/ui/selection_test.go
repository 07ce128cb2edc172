package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelection_ToggleLeavesOriginal(t *testing.T) {
	empty := NewSelection()
	one := empty.Toggle("s1")
	two := one.Toggle("s2")

	assert.Zero(t, empty.Len())
	assert.Equal(t, []string{"s1"}, one.IDs())
	assert.Equal(t, []string{"s1", "s2"}, two.IDs())

	back := two.Toggle("s1")
	assert.Equal(t, []string{"s2"}, back.IDs())
	assert.True(t, two.Has("s1"), "toggling a copy must not change the source")
}

func TestSelection_IDsIsACopy(t *testing.T) {
	s := NewSelection("a", "b", "a")
	assert.Equal(t, 2, s.Len())

	ids := s.IDs()
	ids[0] = "z"
	assert.True(t, s.Has("a"))
	assert.False(t, s.Has("z"))
}
