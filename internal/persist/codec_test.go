package persist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segfaults/venator/internal/model"
)

func TestValueCodecRoundTrip(t *testing.T) {
	tests := []model.Value{
		model.Null(),
		model.BoolValue(true),
		model.BoolValue(false),
		model.Int64Value(-42),
		model.UInt64Value(42),
		model.DoubleValue(3.14159),
		model.StringValue("hello, world"),
		model.BytesValue([]byte{0x01, 0x02, 0xff}),
		model.ArrayValue([]model.Value{model.Int64Value(1), model.StringValue("x")}),
		model.ObjectValue(map[string]model.Value{
			"a": model.Int64Value(1),
			"b": model.ArrayValue([]model.Value{model.BoolValue(true)}),
		}),
	}
	for _, v := range tests {
		encoded := EncodeValue(v)
		decoded, err := DecodeValue(encoded)
		require.NoError(t, err)
		assert.True(t, model.Eq(v, decoded), "round trip mismatch for %+v -> %+v", v, decoded)
	}
}

func TestDecodeValueTruncatedErrors(t *testing.T) {
	_, err := DecodeValue([]byte{tagInt64, 0x01})
	assert.Error(t, err)

	_, err = DecodeValue(nil)
	assert.Error(t, err)
}

func TestEncodeValueTagsDistinguishNumericKinds(t *testing.T) {
	intEnc := EncodeValue(model.Int64Value(5))
	strEnc := EncodeValue(model.StringValue("5"))
	assert.NotEqual(t, intEnc, strEnc)

	uintEnc := EncodeValue(model.UInt64Value(5))
	assert.NotEqual(t, intEnc, uintEnc)
}
