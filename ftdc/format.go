package ftdc

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"reflect"
	"slices"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// A file is a sequence of documents. A schema document is the byte 0x1 followed by a JSON array
// of metric names and a newline. A metric document starts with a zero bit packed with one diff bit
// per schema metric, then the big endian int64 time in nanoseconds since the epoch, then one big
// endian float32 per metric whose diff bit is set. Metrics without a set bit keep their previous
// value, or zero right after a schema document.

const schemaMarker = 0x1

const epsilon = 1e-9

type schema struct {
	fields []string
}

func (s *schema) equal(fields []string) bool {
	return s != nil && slices.Equal(s.fields, fields)
}

func writeSchema(s *schema, w io.Writer) error {
	if _, err := w.Write([]byte{schemaMarker}); err != nil {
		return errors.Wrap(err, "cannot write schema marker")
	}
	// Encode appends the newline the format expects.
	return errors.Wrap(json.NewEncoder(w).Encode(s.fields), "cannot write schema")
}

// writeDatum writes one metric document. prev is nil right after a schema document.
func writeDatum(t int64, prev, curr []float32, w io.Writer) error {
	if prev != nil && len(prev) != len(curr) {
		return errors.Errorf("mismatched reading sizes: previous %d, current %d", len(prev), len(curr))
	}
	changed := make([]bool, len(curr))
	diffBits := make([]byte, diffByteCount(len(curr)))
	for idx, value := range curr {
		var last float32
		if prev != nil {
			last = prev[idx]
		}
		if math.Abs(float64(value-last)) > epsilon {
			changed[idx] = true
			bit := idx + 1
			diffBits[bit/8] |= 1 << (bit % 8)
		}
	}
	if _, err := w.Write(diffBits); err != nil {
		return errors.Wrap(err, "cannot write diff bits")
	}
	if err := binary.Write(w, binary.BigEndian, t); err != nil {
		return errors.Wrap(err, "cannot write time")
	}
	for idx, value := range curr {
		if !changed[idx] {
			continue
		}
		if err := binary.Write(w, binary.BigEndian, value); err != nil {
			return errors.Wrap(err, "cannot write value")
		}
	}
	return nil
}

// diffByteCount is the number of bytes holding the leading document bit and one bit per metric.
func diffByteCount(numFields int) int {
	return 1 + numFields/8
}

// flatten picks the numeric entries of a stats map in name order. Other values are not recorded.
func flatten(stats map[string]any) ([]string, []float32) {
	names := lo.Keys(stats)
	slices.Sort(names)
	fields := make([]string, 0, len(names))
	values := make([]float32, 0, len(names))
	for _, name := range names {
		value, ok := numeric(stats[name])
		if !ok {
			continue
		}
		fields = append(fields, name)
		values = append(values, value)
	}
	return fields, values
}

func numeric(v any) (float32, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			return 1, true
		}
		return 0, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float32(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float32(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return float32(rv.Float()), true
	default:
		return 0, false
	}
}

// Reading is a metric name paired with its value.
type Reading struct {
	MetricName string
	Value      float32
}

// Datum is one recorded sample.
type Datum struct {
	// Time is in nanoseconds since the epoch.
	Time     int64
	Readings []Reading
}

// Value returns the reading for a metric.
func (d Datum) Value(metric string) (float32, bool) {
	r, ok := lo.Find(d.Readings, func(r Reading) bool { return r.MetricName == metric })
	return r.Value, ok
}

// Parse reads every sample from r. On error the samples parsed so far are returned along with it.
func Parse(r io.Reader) ([]Datum, error) {
	var (
		ret    []Datum
		s      *schema
		prev   []float32
		reader = bufio.NewReader(r)
	)
	for {
		peek, err := reader.Peek(1)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ret, nil
			}
			return ret, err
		}
		if peek[0] == schemaMarker {
			_, _ = reader.ReadByte()
			s, reader, err = readSchema(reader)
			if err != nil {
				return ret, err
			}
			prev = nil
			continue
		}
		if s == nil {
			return ret, errors.New("data must start with a schema document")
		}

		diffBits := make([]byte, diffByteCount(len(s.fields)))
		if _, err := io.ReadFull(reader, diffBits); err != nil {
			return ret, errors.Wrap(err, "cannot read diff bits")
		}
		var t int64
		if err := binary.Read(reader, binary.BigEndian, &t); err != nil {
			return ret, errors.Wrap(err, "cannot read time")
		}
		values := make([]float32, len(s.fields))
		for idx := range s.fields {
			bit := idx + 1
			if diffBits[bit/8]&(1<<(bit%8)) == 0 {
				if prev != nil {
					values[idx] = prev[idx]
				}
				continue
			}
			if err := binary.Read(reader, binary.BigEndian, &values[idx]); err != nil {
				return ret, errors.Wrap(err, "cannot read value")
			}
		}
		prev = values

		datum := Datum{Time: t, Readings: make([]Reading, len(values))}
		for idx, name := range s.fields {
			datum.Readings[idx] = Reading{MetricName: name, Value: values[idx]}
		}
		ret = append(ret, datum)
	}
}

// readSchema returns the schema and a reader positioned on the next document. The JSON decoder may
// read past the end of the array, so its buffered bytes are stitched back in front of the input.
func readSchema(reader *bufio.Reader) (*schema, *bufio.Reader, error) {
	decoder := json.NewDecoder(reader)
	var fields []string
	if err := decoder.Decode(&fields); err != nil {
		return nil, nil, errors.Wrap(err, "cannot read schema")
	}
	next := bufio.NewReader(io.MultiReader(decoder.Buffered(), reader))
	if ch, err := next.ReadByte(); err != nil || ch != '\n' {
		return nil, nil, errors.New("schema document is not newline terminated")
	}
	return &schema{fields: fields}, next, nil
}
