package tntcli

import (
	"encoding/json"
	"fmt"

	"github.com/vkolb/tntgo/iproto"
	"github.com/vkolb/tntgo/msgpack"
)

// parseJSONArray decodes a CLI argument like `[1, "hello"]` into a tuple
// tntgo's encoders accept. json.Unmarshal's default number type is
// float64; normalizeNumbers narrows whole-number floats back to
// int64/uint64 so a CLI-supplied key like "[1]" round-trips as a
// Tarantool integer instead of silently becoming a double.
func parseJSONArray(s string) ([]any, error) {
	if s == "" {
		return nil, nil
	}
	var values []any
	if err := json.Unmarshal([]byte(s), &values); err != nil {
		return nil, fmt.Errorf("invalid JSON array %q: %w", s, err)
	}
	normalizeNumbers(values)
	return values, nil
}

func normalizeNumbers(values []any) {
	for i, v := range values {
		switch val := v.(type) {
		case float64:
			values[i] = narrowFloat(val)
		case []any:
			normalizeNumbers(val)
		}
	}
}

func narrowFloat(f float64) any {
	if f != float64(int64(f)) {
		return f
	}
	if f < 0 {
		return int64(f)
	}
	return uint64(f)
}

// valueToAny converts one decoded wire value into a plain Go value
// suitable for json.Marshal, the tntcli analogue of
// internal/testserver.valueToAny.
func valueToAny(v msgpack.Value) any {
	switch v.Type {
	case msgpack.TypeNil:
		return nil
	case msgpack.TypeBool:
		return v.Bool
	case msgpack.TypeInt:
		return v.Int
	case msgpack.TypeUint:
		return v.Uint
	case msgpack.TypeFloat32:
		return v.F32
	case msgpack.TypeFloat64:
		return v.F64
	case msgpack.TypeStr:
		return string(v.Bytes)
	case msgpack.TypeBin:
		return v.Bytes
	default:
		return nil
	}
}

func tupleToAny(t iproto.Tuple) []any {
	out := make([]any, len(t))
	for i, v := range t {
		out[i] = valueToAny(v)
	}
	return out
}

// printResponse renders resp as indented JSON: an error stack on
// failure, the decoded rows on success.
func printResponse(resp *iproto.Response) {
	if resp.Header.Code != 0 {
		frames := make([]map[string]any, len(resp.Errors))
		for i, f := range resp.Errors {
			frames[i] = map[string]any{
				"message": f.Msg,
				"code":    f.ErrCode,
				"type":    f.TypeName,
				"file":    f.File,
				"line":    f.Line,
			}
		}
		out, _ := json.MarshalIndent(map[string]any{
			"code":   resp.Header.Code,
			"errors": frames,
		}, "", "  ")
		fmt.Println(string(out))
		return
	}

	rows := make([][]any, len(resp.Data))
	for i, row := range resp.Data {
		rows[i] = tupleToAny(row)
	}
	out, _ := json.MarshalIndent(rows, "", "  ")
	fmt.Println(string(out))
}
