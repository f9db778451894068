package resp

const (
	TypeSimpleString = '+'
	TypeError        = '-'
	TypeInteger      = ':'
	TypeBulkString   = '$'
	TypeArray        = '*'
)

// Value is a single RESP2 frame
type Value struct {
	String  []byte // SimpleString, Error, BulkString
	Array   []Value
	Integer int64 // Integer
	Type    byte
	IsNull  bool // For nil BulkString and nil Array
}

// Args flattens an array of bulk strings into raw arguments
func (v Value) Args() [][]byte {
	args := make([][]byte, len(v.Array))
	for i, el := range v.Array {
		args[i] = el.String
	}
	return args
}
