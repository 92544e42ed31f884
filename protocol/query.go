package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Field names a value that can be read with a query command
type Field string

const (
	FieldBattery     Field = "battery"
	FieldTemperature Field = "temperature"
	FieldHeight      Field = "height"
	FieldPitch       Field = "pitch"
	FieldRoll        Field = "roll"
	FieldYaw         Field = "yaw"
	FieldTOF         Field = "tof"
)

// Decoder converts a trimmed query reply into an integer value
type Decoder func(reply string) (int, error)

// Query is a single-value read command
type Query struct {
	Field    Field
	Command  string
	Decode   Decoder
	Optional bool // a failure leaves the value unknown instead of zero
}

// TelemetryQueries lists the queries of one telemetry refresh, in the order they are sent
var TelemetryQueries = []Query{
	{Field: FieldBattery, Command: "battery?", Decode: decodeInt},
	{Field: FieldTemperature, Command: "temp?", Decode: decodeTemperature},
	{Field: FieldHeight, Command: "height?", Decode: decodeCentimetres},
	{Field: FieldPitch, Command: "pitch?", Decode: decodeInt},
	{Field: FieldRoll, Command: "roll?", Decode: decodeInt},
	{Field: FieldYaw, Command: "yaw?", Decode: decodeInt},
	{Field: FieldTOF, Command: "tof?", Decode: decodeCentimetres, Optional: true},
}

// queryByField indexes TelemetryQueries
var queryByField = func() map[Field]Query {
	m := make(map[Field]Query, len(TelemetryQueries))
	for _, q := range TelemetryQueries {
		m[q.Field] = q
	}
	return m
}()

// Lookup returns the query for a field
func Lookup(f Field) (Query, bool) {
	q, ok := queryByField[f]
	return q, ok
}

// decodeInt parses a plain signed integer
func decodeInt(reply string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(reply))
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", reply)
	}
	return v, nil
}

// decodeCentimetres parses a distance; "10dm" and "100mm" are converted to cm, a bare number is cm
func decodeCentimetres(reply string) (int, error) {
	r := strings.TrimSpace(reply)
	switch {
	case strings.HasSuffix(r, "dm"):
		v, err := decodeInt(strings.TrimSuffix(r, "dm"))
		return v * 10, err
	case strings.HasSuffix(r, "mm"):
		v, err := decodeInt(strings.TrimSuffix(r, "mm"))
		return v / 10, err
	case strings.HasSuffix(r, "cm"):
		return decodeInt(strings.TrimSuffix(r, "cm"))
	}
	return decodeInt(r)
}

// decodeTemperature parses "83", "83C" or a range "80~83C" (upper bound is used)
func decodeTemperature(reply string) (int, error) {
	r := strings.TrimSuffix(strings.TrimSpace(reply), "C")
	if i := strings.IndexByte(r, '~'); i >= 0 {
		r = r[i+1:]
	}
	return decodeInt(r)
}
