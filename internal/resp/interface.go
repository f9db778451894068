package resp

// Reader decodes requests from a client connection
type Reader interface {
	Read() (Value, error)
	// Buffered reports how many input bytes are already read from the connection but not decoded yet
	Buffered() int
}

// Writer encodes replies, holding them until Flush
type Writer interface {
	Write(v Value) error
	Flush() error
}

var (
	_ Reader = (*Decoder)(nil)
	_ Writer = (*Encoder)(nil)
)
