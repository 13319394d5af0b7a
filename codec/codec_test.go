package codec_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata/codec"
	"github.com/syssam/strata/schema"
	"github.com/syssam/strata/schema/field"
)

type Mood string

type note struct {
	schema.Base
	Title  string   `db:"title"`
	Done   bool     `db:"done"`
	Rank   int      `db:"rank"`
	Weight float64  `db:"weight"`
	Key    uuid.UUID `db:"key"`
	Labels []string `db:"labels"`
	Raw    []byte   `db:"raw"`
	Mood   Mood     `db:"mood"`
}

func modelField(t *testing.T, name string) *schema.Field {
	t.Helper()
	m, err := schema.ModelOf[note]()
	require.NoError(t, err)
	f, ok := m.Field(name)
	require.True(t, ok, name)
	return f
}

func roundTrip(t *testing.T, name string, v any) any {
	t.Helper()
	r := codec.NewRegistry()
	f := modelField(t, name)
	c, err := r.Lookup(f)
	require.NoError(t, err)
	row := make(map[string]any)
	require.NoError(t, c.Encode(row, f.Name, v))
	got, err := c.Decode(row, f.Name)
	require.NoError(t, err)
	return got
}

func TestScalarRoundTrip(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "hello", roundTrip(t, "title", "hello"))
	assert.Equal(t, true, roundTrip(t, "done", true))
	assert.Equal(t, false, roundTrip(t, "done", false))
	assert.Equal(t, int64(42), roundTrip(t, "rank", 42))
	assert.Equal(t, 2.5, roundTrip(t, "weight", 2.5))
	assert.Equal(t, []byte{1, 2, 3}, roundTrip(t, "raw", []byte{1, 2, 3}))
}

func TestBoolStoredAsInteger(t *testing.T) {
	t.Parallel()
	r := codec.NewRegistry()
	f := modelField(t, "done")
	c, err := r.Lookup(f)
	require.NoError(t, err)
	row := make(map[string]any)
	require.NoError(t, c.Encode(row, "done", true))
	assert.Equal(t, int64(1), row["done"])
}

func TestUUIDRoundTrip(t *testing.T) {
	t.Parallel()
	u := uuid.New()
	assert.Equal(t, u, roundTrip(t, "key", u))
}

func TestListRoundTrip(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"a", "b"}, roundTrip(t, "labels", []string{"a", "b"}))
}

func TestListCodecCachedPerField(t *testing.T) {
	t.Parallel()
	r := codec.NewRegistry()
	f := modelField(t, "labels")
	c1, err := r.Lookup(f)
	require.NoError(t, err)
	c2, err := r.Lookup(f)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
}

func TestEnumRoundTrip(t *testing.T) {
	t.Parallel()
	// The codec stores the name; the schema layer converts back to the
	// named type on assignment.
	assert.Equal(t, "happy", roundTrip(t, "mood", Mood("happy")))
}

func TestNullAwareDecode(t *testing.T) {
	t.Parallel()
	r := codec.NewRegistry()
	for _, name := range []string{"title", "done", "rank", "weight", "key", "labels", "raw", "mood"} {
		f := modelField(t, name)
		c, err := r.Lookup(f)
		require.NoError(t, err)

		// Absent column.
		got, err := c.Decode(map[string]any{}, f.Name)
		require.NoError(t, err, name)
		assert.Nil(t, got, name)

		// Explicit NULL.
		got, err = c.Decode(map[string]any{f.Name: nil}, f.Name)
		require.NoError(t, err, name)
		assert.Nil(t, got, name)
	}
}

func TestLookupMiss(t *testing.T) {
	t.Parallel()
	type odd struct {
		schema.Base
		Ch chan int `db:"ch"`
	}
	m, err := schema.ModelOf[odd]()
	require.NoError(t, err)
	f, ok := m.Field("ch")
	require.True(t, ok)
	assert.Equal(t, field.TypeOther, f.Type)

	r := codec.NewRegistry()
	_, err = r.Lookup(f)
	require.Error(t, err)
	assert.True(t, codec.IsNotFound(err))
}

func TestRegisterTypeExtension(t *testing.T) {
	t.Parallel()
	type point struct{ X, Y int }
	type pin struct {
		schema.Base
		At point `db:"at"`
	}
	m, err := schema.ModelOf[pin]()
	require.NoError(t, err)
	f, _ := m.Field("at")
	assert.Equal(t, field.TypeOther, f.Type)

	r := codec.NewRegistry()
	codec.RegisterMsgpack[point](r)
	c, err := r.Lookup(f)
	require.NoError(t, err)
	require.Len(t, c.Columns, 1)
	assert.Equal(t, field.ClassBlob, c.Columns[0].Class)

	row := make(map[string]any)
	require.NoError(t, c.Encode(row, "at", point{X: 1, Y: 2}))
	got, err := c.Decode(row, "at")
	require.NoError(t, err)
	assert.Equal(t, point{X: 1, Y: 2}, got)
}

func TestColumns(t *testing.T) {
	t.Parallel()
	r := codec.NewRegistry()
	f := modelField(t, "title")
	c, err := r.Lookup(f)
	require.NoError(t, err)
	assert.Equal(t, []string{"title"}, codec.Columns(f, c))
}
