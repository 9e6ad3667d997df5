package requestid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsure_GeneratesWhenEmpty(t *testing.T) {
	ctx, id := Ensure(context.Background(), "")
	assert.NotEmpty(t, id)
	assert.Equal(t, id, FromContext(ctx))
}

func TestEnsure_KeepsIncoming(t *testing.T) {
	ctx, id := Ensure(context.Background(), "hook-123")
	assert.Equal(t, "hook-123", id)
	assert.Equal(t, "hook-123", FromContext(ctx))
}

func TestFromContext_Missing(t *testing.T) {
	assert.Empty(t, FromContext(context.Background()))
}
