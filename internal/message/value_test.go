// ABOUTME: Tests for the tagged JSON value type.
// ABOUTME: Covers conversion from Go values, equality, cloning, and lossless number decoding.

package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueOf(t *testing.T) {
	v, err := ValueOf(map[string]any{
		"s":    "hi",
		"n":    42,
		"f":    1.5,
		"b":    true,
		"nil":  nil,
		"list": []any{1, "two"},
	})
	require.NoError(t, err)

	obj, ok := v.AsObject()
	require.True(t, ok)
	assert.Equal(t, KindString, obj["s"].Kind())
	assert.Equal(t, KindNumber, obj["n"].Kind())
	assert.True(t, obj["nil"].IsNull())

	n, ok := obj["n"].AsInt()
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)

	f, ok := obj["f"].AsFloat()
	assert.True(t, ok)
	assert.InDelta(t, 1.5, f, 1e-9)

	list, ok := obj["list"].AsArray()
	require.True(t, ok)
	assert.Len(t, list, 2)

	_, err = ValueOf(struct{}{})
	assert.Error(t, err)
}

func TestValue_JSONPreservesNumberLiterals(t *testing.T) {
	const big = `{"id":12345678901234567890,"ratio":0.1000}`

	var v Value
	require.NoError(t, json.Unmarshal([]byte(big), &v))

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, big, string(out))
	assert.Contains(t, string(out), "12345678901234567890")
}

func TestValue_UnmarshalRejectsTrailingData(t *testing.T) {
	var v Value
	assert.Error(t, v.UnmarshalJSON([]byte(`1 2`)))
}

func TestValue_Equal(t *testing.T) {
	assert.True(t, Int(1).Equal(Float(1.0)))
	assert.True(t, Null().Equal(Value{}))
	assert.False(t, String("1").Equal(Int(1)))
	assert.True(t, MustValueOf(map[string]any{"a": []any{1, 2}}).Equal(MustValueOf(map[string]any{"a": []any{1, 2}})))
	assert.False(t, MustValueOf([]any{1, 2}).Equal(MustValueOf([]any{2, 1})))
}

func TestValue_CloneIsDeep(t *testing.T) {
	original := MustValueOf(map[string]any{"inner": map[string]any{"x": 1}})
	clone := original.Clone()

	obj, _ := clone.AsObject()
	inner, _ := obj["inner"].AsObject()
	inner["x"] = Int(99)

	origObj, _ := original.AsObject()
	origInner, _ := origObj["inner"].AsObject()
	x, _ := origInner["x"].AsInt()
	assert.Equal(t, int64(1), x)
}

func TestValue_Interface(t *testing.T) {
	v := MustValueOf(map[string]any{"n": 2, "f": 2.5, "s": "x", "l": []any{true}})
	assert.Equal(t, map[string]any{
		"n": int64(2),
		"f": 2.5,
		"s": "x",
		"l": []any{true},
	}, v.Interface())
}

func TestValue_String(t *testing.T) {
	assert.Equal(t, `"hi"`, String("hi").String())
	assert.Equal(t, `null`, Null().String())
	assert.Equal(t, `[]`, Array().String())
	assert.Equal(t, `{}`, Object(nil).String())
}
