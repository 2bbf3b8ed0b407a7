package pipeline

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRegistryCancel(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	r.Add(id, cancel)

	assert.Len(t, r.Running(), 1)
	assert.True(t, r.Cancel(id))
	assert.Error(t, ctx.Err())
	assert.Empty(t, r.Running())

	// cancelling an unknown pipeline reports false
	assert.False(t, r.Cancel(id))
}

func TestRegistryAddRejectsSecondTask(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	assert.True(t, r.Add(id, cancel))

	_, second := context.WithCancel(context.Background())
	defer second()
	assert.False(t, r.Add(id, second))
	assert.Len(t, r.Running(), 1)

	// the first registration survives the rejected one
	assert.True(t, r.Cancel(id))
	assert.Error(t, ctx.Err())
}

func TestRegistryShutdown(t *testing.T) {
	r := NewRegistry()

	ctxs := make([]context.Context, 0, 3)
	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		r.Add(uuid.New(), cancel)
		ctxs = append(ctxs, ctx)
	}

	r.Shutdown()

	assert.Empty(t, r.Running())
	for _, ctx := range ctxs {
		assert.Error(t, ctx.Err())
	}
}
