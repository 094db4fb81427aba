package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/celerway/rosmqttbridge/bridge/msgs"
)

// Inbound payloads come from outside the robot. They are decoded in two steps:
// ParseStructural + ValidateSpinCommands check the shape against a closed schema,
// then ConvertSpinCommands builds the typed value and applies the value constraints.
// Nothing reaches the middleware unless both steps pass.

const (
	// MaxCommands bounds the number of entries in one SpinCommands message.
	MaxCommands = 256
	// maxDepth bounds nesting in the structural parse.
	maxDepth = 16
)

// Fields is the generic structural form of a JSON object. Values are
// Fields, []interface{}, json.Number, string, bool or nil.
type Fields map[string]interface{}

var (
	spinCommandsFields = []string{"commands", "period"}
	spinCommandFields  = []string{"omega", "duration"}
)

// SpinCommandsShape is a payload that passed the schema check. The numbers are
// still in their textual form.
type SpinCommandsShape struct {
	Commands []SpinCommandShape
	Period   json.Number
}

type SpinCommandShape struct {
	Omega    json.Number
	Duration json.Number
}

// Decode parses, validates and converts an MQTT payload into a SpinCommands message.
func Decode(payload []byte) (msgs.InboundMessage, error) {
	fields, err := ParseStructural(payload)
	if err != nil {
		return nil, err
	}
	shape, err := ValidateSpinCommands(fields)
	if err != nil {
		return nil, err
	}
	cmds, err := ConvertSpinCommands(shape)
	if err != nil {
		return nil, err
	}
	return cmds, nil
}

// ParseStructural parses payload into its generic form. The payload must be exactly
// one JSON object. Duplicate keys are rejected rather than letting the last one win.
func ParseStructural(payload []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, schemaErr("", -1, "malformed payload: %s", describeJSONErr(err))
	}
	if tok != json.Delim('{') {
		return nil, schemaErr("", -1, "payload must be a JSON object")
	}
	obj, err := parseObject(dec, 1, topLevel)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, schemaErr("", -1, "trailing data after object")
	}
	return obj, nil
}

// entry locates a value inside an array member such as commands[2]. Errors found
// anywhere below it are reported against that entry.
type entry struct {
	field string
	index int
}

var topLevel = entry{index: -1}

// parseObject reads the members of an object whose opening brace has been consumed.
func parseObject(dec *json.Decoder, depth int, at entry) (Fields, error) {
	if depth > maxDepth {
		return nil, schemaErr("", -1, "nesting deeper than %d", maxDepth)
	}
	obj := make(Fields)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, schemaErr("", -1, "malformed payload: %s", describeJSONErr(err))
		}
		key, ok := tok.(string)
		if !ok {
			return nil, schemaErr("", -1, "malformed payload: expected object key")
		}
		if _, dup := obj[key]; dup {
			if at.index >= 0 {
				return nil, schemaErr(at.field, at.index, "duplicate field %q", key)
			}
			return nil, schemaErr(key, -1, "duplicate field")
		}
		val, err := parseValue(dec, depth, key, at)
		if err != nil {
			return nil, err
		}
		obj[key] = val
	}
	if _, err := dec.Token(); err != nil { // closing '}'
		return nil, schemaErr("", -1, "malformed payload: %s", describeJSONErr(err))
	}
	return obj, nil
}

func parseArray(dec *json.Decoder, depth int, field string, at entry) ([]interface{}, error) {
	if depth > maxDepth {
		return nil, schemaErr("", -1, "nesting deeper than %d", maxDepth)
	}
	arr := make([]interface{}, 0)
	for i := 0; dec.More(); i++ {
		el := at
		if el.index < 0 {
			el = entry{field: field, index: i}
		}
		val, err := parseValue(dec, depth, field, el)
		if err != nil {
			return nil, err
		}
		arr = append(arr, val)
	}
	if _, err := dec.Token(); err != nil { // closing ']'
		return nil, schemaErr("", -1, "malformed payload: %s", describeJSONErr(err))
	}
	return arr, nil
}

func parseValue(dec *json.Decoder, depth int, field string, at entry) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, schemaErr("", -1, "malformed payload: %s", describeJSONErr(err))
	}
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			return parseObject(dec, depth+1, at)
		case '[':
			return parseArray(dec, depth+1, field, at)
		default:
			return nil, schemaErr("", -1, "malformed payload: unexpected %q", v)
		}
	default:
		// json.Number, string, bool or nil
		return v, nil
	}
}

func describeJSONErr(err error) string {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return "unexpected end of input"
	}
	return err.Error()
}

// ValidateSpinCommands checks fields against the closed SpinCommands schema:
// exactly {commands, period}, commands a non-empty array of objects with exactly
// {omega, duration}, and every leaf a JSON number.
func ValidateSpinCommands(fields Fields) (SpinCommandsShape, error) {
	if err := checkFieldSet("", -1, fields, spinCommandsFields); err != nil {
		return SpinCommandsShape{}, err
	}
	rawCommands, ok := fields["commands"].([]interface{})
	if !ok {
		return SpinCommandsShape{}, schemaErr("commands", -1, "expected array, got %s", typeName(fields["commands"]))
	}
	if len(rawCommands) == 0 {
		return SpinCommandsShape{}, schemaErr("commands", -1, "at least one command is required")
	}
	shape := SpinCommandsShape{Commands: make([]SpinCommandShape, 0, len(rawCommands))}
	for i, raw := range rawCommands {
		entry, ok := raw.(Fields)
		if !ok {
			return SpinCommandsShape{}, schemaErr("commands", i, "expected object, got %s", typeName(raw))
		}
		if err := checkFieldSet("commands", i, entry, spinCommandFields); err != nil {
			return SpinCommandsShape{}, err
		}
		omega, ok := entry["omega"].(json.Number)
		if !ok {
			return SpinCommandsShape{}, schemaErr("commands", i, "omega: expected number, got %s", typeName(entry["omega"]))
		}
		duration, ok := entry["duration"].(json.Number)
		if !ok {
			return SpinCommandsShape{}, schemaErr("commands", i, "duration: expected number, got %s", typeName(entry["duration"]))
		}
		shape.Commands = append(shape.Commands, SpinCommandShape{Omega: omega, Duration: duration})
	}
	period, ok := fields["period"].(json.Number)
	if !ok {
		return SpinCommandsShape{}, schemaErr("period", -1, "expected number, got %s", typeName(fields["period"]))
	}
	shape.Period = period
	return shape, nil
}

// checkFieldSet reports missing fields before extra ones, both in sorted order so the
// error for a given payload is stable.
func checkFieldSet(field string, index int, obj Fields, want []string) error {
	var missing, extra []string
	for _, name := range want {
		if _, ok := obj[name]; !ok {
			missing = append(missing, name)
		}
	}
	for name := range obj {
		if !contains(want, name) {
			extra = append(extra, name)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)
	if len(missing) > 0 {
		return &SchemaViolation{Field: fieldPath(field, missing[0]), Index: index,
			Reason: "missing required field(s): " + strings.Join(missing, ", ")}
	}
	if len(extra) > 0 {
		return &SchemaViolation{Field: fieldPath(field, extra[0]), Index: index,
			Reason: "unknown field(s): " + strings.Join(extra, ", ")}
	}
	return nil
}

func fieldPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func typeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case Fields:
		return "object"
	case []interface{}:
		return "array"
	case json.Number:
		return "number"
	case string:
		return "string"
	case bool:
		return "bool"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// ConvertSpinCommands builds the typed message. Values must be finite, durations and
// the period strictly positive. Out of range values are rejected, never clamped.
func ConvertSpinCommands(shape SpinCommandsShape) (msgs.SpinCommands, error) {
	if len(shape.Commands) == 0 {
		return msgs.SpinCommands{}, &ConversionError{Field: "commands", Index: -1, Value: "[]", Reason: "no commands"}
	}
	if len(shape.Commands) > MaxCommands {
		return msgs.SpinCommands{}, &ConversionError{Field: "commands", Index: -1,
			Value: strconv.Itoa(len(shape.Commands)), Reason: fmt.Sprintf("more than %d commands", MaxCommands)}
	}
	out := msgs.SpinCommands{Commands: make([]msgs.SpinCommand, 0, len(shape.Commands))}
	for i, c := range shape.Commands {
		omega, err := finite("omega", i, c.Omega)
		if err != nil {
			return msgs.SpinCommands{}, err
		}
		duration, err := finite("duration", i, c.Duration)
		if err != nil {
			return msgs.SpinCommands{}, err
		}
		if duration <= 0 {
			return msgs.SpinCommands{}, &ConversionError{Field: "duration", Index: i, Value: c.Duration.String(), Reason: "must be positive"}
		}
		out.Commands = append(out.Commands, msgs.SpinCommand{Omega: omega, Duration: duration})
	}
	period, err := finite("period", -1, shape.Period)
	if err != nil {
		return msgs.SpinCommands{}, err
	}
	if period <= 0 {
		return msgs.SpinCommands{}, &ConversionError{Field: "period", Index: -1, Value: shape.Period.String(), Reason: "must be positive"}
	}
	out.Period = period
	return out, nil
}

func finite(field string, index int, n json.Number) (float64, error) {
	v, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return 0, &ConversionError{Field: field, Index: index, Value: n.String(), Reason: "not representable as float64"}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ConversionError{Field: field, Index: index, Value: n.String(), Reason: "not finite"}
	}
	return v, nil
}
