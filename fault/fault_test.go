package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindsAreDistinct(t *testing.T) {
	seen := make(map[string]Kind)
	for _, k := range Kinds() {
		msg := k.Error()
		assert.NotEqual(t, "unknown fault", msg, "kind %d has no description", k)
		if prev, ok := seen[msg]; ok {
			t.Fatalf("kinds %d and %d share description %q", prev, k, msg)
		}
		seen[msg] = k
	}
	assert.Len(t, seen, 6)
}

func TestWrappedKindMatches(t *testing.T) {
	err := fmt.Errorf("decrypt envelope 7: %w", DecryptionFailed)

	assert.True(t, errors.Is(err, DecryptionFailed))
	assert.False(t, errors.Is(err, ReplayOrReorder))

	k, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, DecryptionFailed, k)
}

func TestKindOfForeignError(t *testing.T) {
	_, ok := KindOf(errors.New("disk full"))
	assert.False(t, ok)
}

func TestOnlyCounterExhaustionIsFatal(t *testing.T) {
	for _, k := range Kinds() {
		assert.Equal(t, k == CounterExhausted, k.Fatal(), k.String())
	}
}
