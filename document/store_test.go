package document

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func newTestIterator(t *testing.T, docs ...interface{}) *Iterator {
	t.Helper()
	cur, err := mongo.NewCursorFromDocuments(docs, nil, nil)
	require.NoError(t, err)
	return &Iterator{cur: cur, label: "person"}
}

func TestIteratorStreams(t *testing.T) {
	t.Parallel()
	it := newTestIterator(t,
		bson.D{{Key: "_id", Value: int64(1)}, {Key: "name", Value: "a"}},
		bson.D{{Key: "_id", Value: int64(2)}, {Key: "name", Value: "b"}},
	)
	ctx := context.Background()

	row, err := it.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": int64(1), "name": "a"}, row)

	row, err = it.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": int64(2), "name": "b"}, row)

	// Exhaustion yields nil and closes the cursor.
	row, err = it.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, row)
	require.NoError(t, it.Close())
}

func TestIteratorCloseMidIteration(t *testing.T) {
	t.Parallel()
	it := newTestIterator(t,
		bson.D{{Key: "_id", Value: int64(1)}},
		bson.D{{Key: "_id", Value: int64(2)}},
	)
	ctx := context.Background()

	row, err := it.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, row)

	// Disposing before the end releases the cursor; advancing afterwards
	// just reports exhaustion.
	require.NoError(t, it.Close())
	row, err = it.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, row)

	// Close is idempotent.
	require.NoError(t, it.Close())
}
