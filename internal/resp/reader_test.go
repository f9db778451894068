package resp_test

import (
	"errors"
	"io"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/eternalApril/rudis/internal/resp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadInt(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr error
	}{
		{
			name:    "Valid positive",
			input:   ":1000\r\n",
			want:    1000,
			wantErr: nil,
		},
		{
			name:    "Valid positive with +",
			input:   ":+1230\r\n",
			want:    1230,
			wantErr: nil,
		},
		{
			name:    "Valid negative",
			input:   ":-15\r\n",
			want:    -15,
			wantErr: nil,
		},
		{
			name:    "Valid zero",
			input:   ":0\r\n",
			want:    0,
			wantErr: nil,
		},
		{
			name:    "Invalid ending",
			input:   ":1000\n",
			want:    0,
			wantErr: resp.ErrInvalidEnding,
		},
		{
			name:    "Not a number",
			input:   ":abc\r\n",
			want:    0,
			wantErr: resp.ErrProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := resp.NewDecoder(strings.NewReader(tt.input))

			val, err := r.Read()

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Read() expected error %v, got %v", tt.wantErr, err)
				}
				return
			}

			if err != nil {
				t.Errorf("Read() unexpected error %v", err)
			}

			if val.Type != resp.TypeInteger {
				t.Errorf("Read() type = %v, want %v", val.Type, resp.TypeInteger)
			}

			if val.Integer != tt.want {
				t.Errorf("Read() num = %v, want %v", val.Integer, tt.want)
			}
		})
	}
}

func TestReadCommandArray(t *testing.T) {
	r := resp.NewDecoder(strings.NewReader("*3\r\n$3\r\nSET\r\n$3\r\nkey\r\n$0\r\n\r\n"))

	val, err := r.Read()
	require.NoError(t, err)
	require.Equal(t, byte(resp.TypeArray), val.Type)
	require.Len(t, val.Array, 3)

	args := val.Args()
	assert.Equal(t, "SET", string(args[0]))
	assert.Equal(t, "key", string(args[1]))
	assert.Equal(t, "", string(args[2]))

	_, err = r.Read()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadNulls(t *testing.T) {
	r := resp.NewDecoder(strings.NewReader("$-1\r\n*-1\r\n"))

	bulk, err := r.Read()
	require.NoError(t, err)
	assert.True(t, bulk.IsNull)
	assert.Equal(t, byte(resp.TypeBulkString), bulk.Type)

	arr, err := r.Read()
	require.NoError(t, err)
	assert.True(t, arr.IsNull)
	assert.Equal(t, byte(resp.TypeArray), arr.Type)
}

func TestReadInline(t *testing.T) {
	r := resp.NewDecoder(strings.NewReader("set  a   1\r\nPING\n"))

	val, err := r.Read()
	require.NoError(t, err)
	require.Len(t, val.Array, 3)
	assert.Equal(t, "set", string(val.Array[0].String))
	assert.Equal(t, "a", string(val.Array[1].String))
	assert.Equal(t, "1", string(val.Array[2].String))

	val, err = r.Read()
	require.NoError(t, err)
	require.Len(t, val.Array, 1)
	assert.Equal(t, "PING", string(val.Array[0].String))
}

func TestReadMalformed(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"negative bulk length", "$-5\r\n", resp.ErrProtocol},
		{"bulk without CRLF", "$3\r\nabcde", resp.ErrProtocol},
		{"negative array length", "*-3\r\n", resp.ErrProtocol},
		{"truncated bulk", "$10\r\nabc", io.ErrUnexpectedEOF},
		{"truncated array", "*2\r\n$1\r\na\r\n", io.ErrUnexpectedEOF},
		{"integer argument", "*2\r\n$3\r\nGET\r\n:5\r\n", resp.ErrProtocol},
		{"nested array argument", "*2\r\n$3\r\nGET\r\n*1\r\n:5\r\n", resp.ErrProtocol},
		{"null bulk argument", "*2\r\n$3\r\nGET\r\n$-1\r\n", resp.ErrProtocol},
		{"simple string argument", "*1\r\n+PING\r\n", resp.ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := resp.NewDecoder(strings.NewReader(tt.input))
			_, err := r.Read()
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestReadDeeplyNestedArray(t *testing.T) {
	input := strings.Repeat("*1\r\n", 100_000) + "$4\r\nPING\r\n"
	r := resp.NewDecoder(strings.NewReader(input))

	_, err := r.Read()
	require.ErrorIs(t, err, resp.ErrProtocol)
	assert.Contains(t, err.Error(), "expected '$', got '*'")
}

func TestReadLargeBulk(t *testing.T) {
	payload := strings.Repeat("x", 200_000)
	input := "*2\r\n$3\r\nSET\r\n$" + strconv.Itoa(len(payload)) + "\r\n" + payload + "\r\n"
	r := resp.NewDecoder(strings.NewReader(input))

	val, err := r.Read()
	require.NoError(t, err)
	require.Len(t, val.Array, 2)
	assert.Equal(t, payload, string(val.Array[1].String))
}

func TestReadBulkDeclaredLengthIsNotPreallocated(t *testing.T) {
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)

	r := resp.NewDecoder(strings.NewReader("$536870912\r\nabc"))
	_, err := r.Read()

	runtime.ReadMemStats(&after)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(16<<20), "a short payload must not allocate the declared length")
}

func TestBuffered(t *testing.T) {
	r := resp.NewDecoder(strings.NewReader("+OK\r\n+OK\r\n"))

	_, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, 5, r.Buffered())

	_, err = r.Read()
	require.NoError(t, err)
	assert.Equal(t, 0, r.Buffered())
}
