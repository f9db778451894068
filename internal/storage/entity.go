package storage

type DataType byte

const (
	TypeString DataType = iota + 1
	TypeList
	TypeSet
	TypeHash
	TypeZSet
)

// String returns the name reported by the TYPE command
func (t DataType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeList:
		return "list"
	case TypeSet:
		return "set"
	case TypeHash:
		return "hash"
	case TypeZSet:
		return "zset"
	}
	return "none"
}

// Valid reports whether t is one of the known value variants
func (t DataType) Valid() bool {
	return t >= TypeString && t <= TypeZSet
}

// Set is the payload of a set key
type Set map[string]struct{}

// Hash is the payload of a hash key
type Hash map[string]string

// Entity generic container for value.
// Value holds string, *List, Set, Hash or *ZSet according to Type
type Entity struct {
	Type  DataType
	Value interface{}
}

func NewStringEntity(s string) *Entity {
	return &Entity{Type: TypeString, Value: s}
}

func NewListEntity(l *List) *Entity {
	return &Entity{Type: TypeList, Value: l}
}

func NewSetEntity(s Set) *Entity {
	return &Entity{Type: TypeSet, Value: s}
}

func NewHashEntity(h Hash) *Entity {
	return &Entity{Type: TypeHash, Value: h}
}

func NewZSetEntity(z *ZSet) *Entity {
	return &Entity{Type: TypeZSet, Value: z}
}

// Len returns the number of elements of a container, or the byte length of a string
func (e *Entity) Len() int {
	switch v := e.Value.(type) {
	case string:
		return len(v)
	case *List:
		return v.Len()
	case Set:
		return len(v)
	case Hash:
		return len(v)
	case *ZSet:
		return v.Len()
	}
	return 0
}

// Clone returns a deep copy that shares no mutable state with e
func (e *Entity) Clone() *Entity {
	switch v := e.Value.(type) {
	case *List:
		return NewListEntity(v.Clone())
	case Set:
		s := make(Set, len(v))
		for m := range v {
			s[m] = struct{}{}
		}
		return NewSetEntity(s)
	case Hash:
		h := make(Hash, len(v))
		for f, val := range v {
			h[f] = val
		}
		return NewHashEntity(h)
	case *ZSet:
		return NewZSetEntity(v.Clone())
	}
	return &Entity{Type: e.Type, Value: e.Value}
}
