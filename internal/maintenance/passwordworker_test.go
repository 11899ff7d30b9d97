package maintenance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordWorkerHashAndVerify(t *testing.T) {
	w := NewPasswordWorker()
	defer w.Exit()

	pepper := []byte("shard1shard2")
	hash, err := w.Hash(context.Background(), []byte("correct horse battery staple"), pepper)
	require.NoError(t, err)

	assert.True(t, w.Verify(context.Background(), []byte("correct horse battery staple"), pepper, hash))
	assert.False(t, w.Verify(context.Background(), []byte("wrong password"), pepper, hash))
}

func TestPasswordWorkerRespectsContextCancellation(t *testing.T) {
	w := NewPasswordWorker()
	defer w.Exit()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Hash(ctx, []byte("x"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}
