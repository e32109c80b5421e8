package message_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/owlmail/owlmail/pkg/message"
)

func TestNewID(t *testing.T) {
	a := message.NewID()
	b := message.NewID()
	assert.Len(t, a, 26)
	assert.NotEqual(t, a, b)
	assert.True(t, message.ValidID(a))
	// Monotonic entropy keeps ids from the same process sortable.
	assert.Less(t, a, b)
}

func TestValidID(t *testing.T) {
	assert.True(t, message.ValidID("01J8ZQ4T2N2Y4V9BGNHM4T0X7C"))
	assert.False(t, message.ValidID(""))
	assert.False(t, message.ValidID("not-a-ulid"))
	assert.False(t, message.ValidID("01J8ZQ4T2N2Y4V9BGNHM4T0X7"))
}
