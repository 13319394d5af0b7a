package codec

import (
	"fmt"
	"strconv"
	"time"

	"github.com/syssam/strata/schema/field"
)

// Physical column suffixes for the two-column temporal encodings.
const (
	SuffixDate   = "_date"
	SuffixOffset = "_offset"
	SuffixZone   = "_zone"
)

// instantCodec stores a point in time as its UTC millisecond epoch.
func instantCodec() *Codec {
	return &Codec{
		Columns: singleColumn(field.ClassInteger),
		Encode: func(dst map[string]any, name string, v any) error {
			t, ok := v.(time.Time)
			if !ok {
				return fmt.Errorf("strata: codec: %s: expected time.Time, got %T", name, v)
			}
			dst[name] = t.UnixMilli()
			return nil
		},
		Decode: func(src map[string]any, name string) (any, error) {
			ms, ok, err := readInt(src, name)
			if err != nil || !ok {
				return nil, err
			}
			return time.UnixMilli(ms).UTC(), nil
		},
	}
}

// dateCodec stores a calendar date as days since the Unix epoch, taken from
// the value's wall-clock date.
func dateCodec() *Codec {
	return &Codec{
		Columns: singleColumn(field.ClassInteger),
		Encode: func(dst map[string]any, name string, v any) error {
			t, ok := v.(time.Time)
			if !ok {
				return fmt.Errorf("strata: codec: %s: expected time.Time, got %T", name, v)
			}
			y, m, d := t.Date()
			dst[name] = time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
			return nil
		},
		Decode: func(src map[string]any, name string) (any, error) {
			days, ok, err := readInt(src, name)
			if err != nil || !ok {
				return nil, err
			}
			return time.Unix(days*86400, 0).UTC(), nil
		},
	}
}

// timeOfDayCodec stores a wall-clock time as nanoseconds since midnight,
// reconstructed on the epoch reference date.
func timeOfDayCodec() *Codec {
	return &Codec{
		Columns: singleColumn(field.ClassInteger),
		Encode: func(dst map[string]any, name string, v any) error {
			t, ok := v.(time.Time)
			if !ok {
				return fmt.Errorf("strata: codec: %s: expected time.Time, got %T", name, v)
			}
			h, m, s := t.Clock()
			dst[name] = int64(h)*3600_000_000_000 + int64(m)*60_000_000_000 +
				int64(s)*1_000_000_000 + int64(t.Nanosecond())
			return nil
		},
		Decode: func(src map[string]any, name string) (any, error) {
			nanos, ok, err := readInt(src, name)
			if err != nil || !ok {
				return nil, err
			}
			return time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(nanos)), nil
		},
	}
}

// offsetTimeCodec stores a timestamp with offset as a UTC millisecond
// instant plus the offset in seconds, in two physical columns. The instant
// column alone participates in ordering; the offset is informational.
func offsetTimeCodec() *Codec {
	return &Codec{
		Columns: []Column{
			{Suffix: SuffixDate, Class: field.ClassInteger},
			{Suffix: SuffixOffset, Class: field.ClassInteger},
		},
		Encode: func(dst map[string]any, name string, v any) error {
			t, ok := v.(time.Time)
			if !ok {
				return fmt.Errorf("strata: codec: %s: expected time.Time, got %T", name, v)
			}
			_, off := t.Zone()
			dst[name+SuffixDate] = t.UnixMilli()
			dst[name+SuffixOffset] = int64(off)
			return nil
		},
		Decode: func(src map[string]any, name string) (any, error) {
			ms, ok, err := readInt(src, name+SuffixDate)
			if err != nil || !ok {
				return nil, err
			}
			off, ok, err := readInt(src, name+SuffixOffset)
			if err != nil {
				return nil, err
			}
			if !ok {
				return time.UnixMilli(ms).UTC(), nil
			}
			return time.UnixMilli(ms).In(time.FixedZone(offsetName(int(off)), int(off))), nil
		},
	}
}

// zonedTimeCodec stores a timestamp with zone as a UTC millisecond instant
// plus the zone name, in two physical columns. The zone label round-trips
// on read but never participates in comparisons.
func zonedTimeCodec() *Codec {
	return &Codec{
		Columns: []Column{
			{Suffix: SuffixDate, Class: field.ClassInteger},
			{Suffix: SuffixZone, Class: field.ClassText},
		},
		Encode: func(dst map[string]any, name string, v any) error {
			t, ok := v.(time.Time)
			if !ok {
				return fmt.Errorf("strata: codec: %s: expected time.Time, got %T", name, v)
			}
			dst[name+SuffixDate] = t.UnixMilli()
			dst[name+SuffixZone] = t.Location().String()
			return nil
		},
		Decode: func(src map[string]any, name string) (any, error) {
			ms, ok, err := readInt(src, name+SuffixDate)
			if err != nil || !ok {
				return nil, err
			}
			zone, _ := present(src, name+SuffixZone)
			label, _ := toString(zone)
			loc, err := parseZone(label)
			if err != nil {
				return nil, err
			}
			return time.UnixMilli(ms).In(loc), nil
		},
	}
}

// EncodeComparable encodes a temporal value to the physical value of its
// instant column, used by the query renderer: comparisons always target the
// instant column after normalizing to UTC.
func EncodeComparable(t field.Type, v any) (any, error) {
	tv, ok := v.(time.Time)
	if !ok {
		return nil, fmt.Errorf("strata: codec: expected time.Time, got %T", v)
	}
	tmp := make(map[string]any, 2)
	var c *Codec
	switch t {
	case field.TypeInstant:
		c = instantCodec()
	case field.TypeDate:
		c = dateCodec()
	case field.TypeTimeOfDay:
		c = timeOfDayCodec()
	case field.TypeOffsetTime:
		c = offsetTimeCodec()
	case field.TypeZonedTime:
		c = zonedTimeCodec()
	default:
		return nil, fmt.Errorf("strata: codec: %s is not temporal", t)
	}
	// UnixMilli is zone independent, so instants compare in UTC regardless
	// of the stored zone label; dates and times-of-day keep wall semantics.
	if err := c.Encode(tmp, "v", tv); err != nil {
		return nil, err
	}
	if v, ok := tmp["v"]; ok {
		return v, nil
	}
	return tmp["v"+SuffixDate], nil
}

// InstantColumn returns the physical column name holding the comparable
// instant of a temporal property.
func InstantColumn(t field.Type, name string) string {
	if t == field.TypeOffsetTime || t == field.TypeZonedTime {
		return name + SuffixDate
	}
	return name
}

func readInt(src map[string]any, name string) (int64, bool, error) {
	v, ok := present(src, name)
	if !ok {
		return 0, false, nil
	}
	n, ok := toInt64(v)
	if !ok {
		return 0, false, fmt.Errorf("strata: codec: %s: cannot decode %T as integer", name, v)
	}
	return n, true, nil
}

// parseZone resolves a stored zone label: an IANA name, "UTC"/"Local", or a
// fixed ±hh:mm offset produced by time.FixedZone locations.
func parseZone(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	if loc, err := time.LoadLocation(name); err == nil {
		return loc, nil
	}
	if len(name) >= 6 && (name[0] == '+' || name[0] == '-') && name[3] == ':' {
		h, herr := strconv.Atoi(name[1:3])
		m, merr := strconv.Atoi(name[4:6])
		if herr == nil && merr == nil {
			off := h*3600 + m*60
			if name[0] == '-' {
				off = -off
			}
			return time.FixedZone(name, off), nil
		}
	}
	return nil, fmt.Errorf("strata: codec: unknown time zone %q", name)
}

func offsetName(off int) string {
	sign := "+"
	if off < 0 {
		sign = "-"
		off = -off
	}
	return fmt.Sprintf("%s%02d:%02d", sign, off/3600, (off%3600)/60)
}
