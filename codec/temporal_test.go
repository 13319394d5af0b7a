package codec_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata/codec"
	"github.com/syssam/strata/schema"
	"github.com/syssam/strata/schema/field"
)

type calendar struct {
	schema.Base
	Seen     time.Time `db:"seen"`
	Birthday time.Time `db:"birthday,date"`
	Wakeup   time.Time `db:"wakeup,timeofday"`
	Signed   time.Time `db:"signed,offset"`
	Joined   time.Time `db:"joined,zoned"`
}

func temporalCodec(t *testing.T, name string) (*schema.Field, *codec.Codec) {
	t.Helper()
	m, err := schema.ModelOf[calendar]()
	require.NoError(t, err)
	f, ok := m.Field(name)
	require.True(t, ok, name)
	c, err := codec.NewRegistry().Lookup(f)
	require.NoError(t, err)
	return f, c
}

func TestInstantRoundTrip(t *testing.T) {
	t.Parallel()
	_, c := temporalCodec(t, "seen")
	in := time.Date(2024, 6, 15, 10, 30, 0, 123_000_000, time.UTC)
	row := make(map[string]any)
	require.NoError(t, c.Encode(row, "seen", in))
	assert.Equal(t, in.UnixMilli(), row["seen"])

	got, err := c.Decode(row, "seen")
	require.NoError(t, err)
	// Millisecond precision: sub-millisecond digits are dropped.
	assert.True(t, got.(time.Time).Equal(in))
}

func TestInstantCrossZone(t *testing.T) {
	t.Parallel()
	_, c := temporalCodec(t, "seen")
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	utc := time.Date(2024, 6, 15, 1, 0, 0, 0, time.UTC)
	local := utc.In(tokyo)

	r1, r2 := make(map[string]any), make(map[string]any)
	require.NoError(t, c.Encode(r1, "seen", utc))
	require.NoError(t, c.Encode(r2, "seen", local))
	// The same instant encodes identically regardless of the wall zone.
	assert.Equal(t, r1["seen"], r2["seen"])
}

func TestDateWallSemantics(t *testing.T) {
	t.Parallel()
	_, c := temporalCodec(t, "birthday")
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// 23:30 in Tokyo is still the 15th there, even though it is the 14th
	// in UTC. The calendar date is taken from the wall clock.
	in := time.Date(2024, 6, 15, 23, 30, 0, 0, tokyo)
	row := make(map[string]any)
	require.NoError(t, c.Encode(row, "birthday", in))

	got, err := c.Decode(row, "birthday")
	require.NoError(t, err)
	y, m, d := got.(time.Time).Date()
	assert.Equal(t, 2024, y)
	assert.Equal(t, time.June, m)
	assert.Equal(t, 15, d)
}

func TestTimeOfDayRoundTrip(t *testing.T) {
	t.Parallel()
	_, c := temporalCodec(t, "wakeup")
	in := time.Date(1999, 1, 1, 6, 45, 30, 500_000_000, time.UTC)
	row := make(map[string]any)
	require.NoError(t, c.Encode(row, "wakeup", in))

	got, err := c.Decode(row, "wakeup")
	require.NoError(t, err)
	h, m, s := got.(time.Time).Clock()
	assert.Equal(t, 6, h)
	assert.Equal(t, 45, m)
	assert.Equal(t, 30, s)
	assert.Equal(t, 500_000_000, got.(time.Time).Nanosecond())
}

func TestOffsetTimeTwoColumns(t *testing.T) {
	t.Parallel()
	_, c := temporalCodec(t, "signed")
	require.Len(t, c.Columns, 2)
	assert.Equal(t, codec.SuffixDate, c.Columns[0].Suffix)
	assert.Equal(t, codec.SuffixOffset, c.Columns[1].Suffix)

	in := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("+05:30", 5*3600+30*60))
	row := make(map[string]any)
	require.NoError(t, c.Encode(row, "signed", in))
	assert.Equal(t, in.UnixMilli(), row["signed"+codec.SuffixDate])
	assert.Equal(t, int64(5*3600+30*60), row["signed"+codec.SuffixOffset])

	got, err := c.Decode(row, "signed")
	require.NoError(t, err)
	out := got.(time.Time)
	assert.True(t, out.Equal(in))
	_, off := out.Zone()
	assert.Equal(t, 5*3600+30*60, off)
}

func TestZonedTimeRoundTrip(t *testing.T) {
	t.Parallel()
	_, c := temporalCodec(t, "joined")
	require.Len(t, c.Columns, 2)
	assert.Equal(t, codec.SuffixZone, c.Columns[1].Suffix)

	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	in := time.Date(2024, 8, 1, 9, 0, 0, 0, paris)
	row := make(map[string]any)
	require.NoError(t, c.Encode(row, "joined", in))
	assert.Equal(t, "Europe/Paris", row["joined"+codec.SuffixZone])

	got, err := c.Decode(row, "joined")
	require.NoError(t, err)
	out := got.(time.Time)
	assert.True(t, out.Equal(in))
	assert.Equal(t, "Europe/Paris", out.Location().String())
}

func TestZonedTimeUnknownZone(t *testing.T) {
	t.Parallel()
	_, c := temporalCodec(t, "joined")
	row := map[string]any{
		"joined" + codec.SuffixDate: int64(0),
		"joined" + codec.SuffixZone: "Atlantis/Nowhere",
	}
	_, err := c.Decode(row, "joined")
	assert.Error(t, err)
}

func TestZonedTimeFixedOffsetLabel(t *testing.T) {
	t.Parallel()
	_, c := temporalCodec(t, "joined")
	in := time.Date(2024, 8, 1, 9, 0, 0, 0, time.FixedZone("-05:30", -(5*3600+30*60)))
	row := make(map[string]any)
	require.NoError(t, c.Encode(row, "joined", in))

	got, err := c.Decode(row, "joined")
	require.NoError(t, err)
	out := got.(time.Time)
	assert.True(t, out.Equal(in))
	_, off := out.Zone()
	assert.Equal(t, -(5*3600 + 30*60), off)
}

func TestEncodeComparable(t *testing.T) {
	t.Parallel()
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	utc := time.Date(2024, 6, 15, 1, 0, 0, 0, time.UTC)

	// The comparable instant is identical across zones for instant-like
	// types: ordering never depends on the stored zone label.
	for _, typ := range []field.Type{field.TypeInstant, field.TypeOffsetTime, field.TypeZonedTime} {
		a, err := codec.EncodeComparable(typ, utc)
		require.NoError(t, err)
		b, err := codec.EncodeComparable(typ, utc.In(tokyo))
		require.NoError(t, err)
		assert.Equal(t, a, b, typ.String())
		assert.Equal(t, utc.UnixMilli(), a, typ.String())
	}

	_, err = codec.EncodeComparable(field.TypeString, utc)
	assert.Error(t, err)
	_, err = codec.EncodeComparable(field.TypeInstant, "not a time")
	assert.Error(t, err)
}

func TestInstantColumn(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "seen", codec.InstantColumn(field.TypeInstant, "seen"))
	assert.Equal(t, "joined"+codec.SuffixDate, codec.InstantColumn(field.TypeZonedTime, "joined"))
	assert.Equal(t, "signed"+codec.SuffixDate, codec.InstantColumn(field.TypeOffsetTime, "signed"))
}
