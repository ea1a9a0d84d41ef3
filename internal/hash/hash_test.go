package hash_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"reality-mesh/internal/hash"
)

func TestValueIsDeterministic(t *testing.T) {
	a := hash.Value(map[string]any{"title": "hello", "views": 3})
	b := hash.Value(map[string]any{"views": 3, "title": "hello"})
	assert.Equal(t, a, b, "map key order must not affect the fingerprint")
}

func TestValueDistinguishesContent(t *testing.T) {
	a := hash.Value("hello")
	b := hash.Value("world")
	assert.NotEqual(t, a, b)
}

func TestCombineIsOrderSensitive(t *testing.T) {
	ab := hash.Combine("a", "b")
	ba := hash.Combine("b", "a")
	assert.NotEqual(t, ab, ba)
}

func TestCombineAvoidsConcatenationCollision(t *testing.T) {
	first := hash.Combine("ab", "c")
	second := hash.Combine("a", "bc")
	assert.NotEqual(t, first, second)
}

func TestEqual(t *testing.T) {
	h := hash.Value("same")
	assert.True(t, hash.Equal(h, h))
	assert.False(t, hash.Equal(h, hash.Value("different")))
}

func TestSortedKeys(t *testing.T) {
	m := map[string]int{"b": 1, "a": 2, "c": 3}
	assert.Equal(t, []string{"a", "b", "c"}, hash.SortedKeys(m))
}
