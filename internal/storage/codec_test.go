package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntities() map[string]*Entity {
	l := NewList()
	l.PushBack("a")
	l.PushBack("")
	l.PushBack("c")

	z := NewZSet()
	z.Add("low", -1.5)
	z.Add("high", 1e10)

	return map[string]*Entity{
		"string": NewStringEntity("bin\x00ary"),
		"list":   NewListEntity(l),
		"set":    NewSetEntity(Set{"x": {}, "y": {}}),
		"hash":   NewHashEntity(Hash{"f": "v", "empty": ""}),
		"zset":   NewZSetEntity(z),
		"emptyl": NewListEntity(NewList()),
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	for name, e := range sampleEntities() {
		t.Run(name, func(t *testing.T) {
			payload := AppendPayload(nil, e)

			got, err := DecodePayload(e.Type, payload)
			require.NoError(t, err)
			assert.Equal(t, e.Type, got.Type)

			switch v := e.Value.(type) {
			case *List:
				assert.Equal(t, v.Values(), got.Value.(*List).Values())
			case *ZSet:
				assert.Equal(t, v.Members(), got.Value.(*ZSet).Members())
			default:
				assert.Equal(t, e.Value, got.Value)
			}
		})
	}
}

func TestDecodePayloadCorrupt(t *testing.T) {
	h := AppendPayload(nil, NewHashEntity(Hash{"field": "value"}))

	_, err := DecodePayload(TypeHash, h[:len(h)-2])
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = DecodePayload(TypeHash, append(h, 0x01))
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = DecodePayload(DataType(42), h)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = DecodePayload(TypeSet, []byte{0xff})
	assert.ErrorIs(t, err, ErrCorrupt)
}
