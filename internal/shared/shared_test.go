package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFold(t *testing.T) {
	assert.Equal(t, "castka prijata", Fold("  Částka   PŘIJATÁ "))
	assert.Equal(t, "zlutoucky kun", Fold("Žluťoučký kůň"))
}

func TestIdentityContext(t *testing.T) {
	_, ok := IdentityFromContext(context.Background())
	require.False(t, ok)

	ctx := ContextWithIdentity(context.Background(), Identity{CompanyID: 3, UserID: 9})
	id, ok := IdentityFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(3), id.CompanyID)
	assert.Equal(t, "9", id.Actor())

	assert.Equal(t, SystemActor, Identity{CompanyID: 3}.Actor())

	_, ok = IdentityFromContext(ContextWithIdentity(context.Background(), Identity{UserID: 1}))
	assert.False(t, ok)
}
