package storage

const minListCap = 8

// List is a ring buffer deque of strings
type List struct {
	buf  []string
	head int
	n    int
}

func NewList() *List {
	return &List{buf: make([]string, minListCap)}
}

func (l *List) Len() int {
	return l.n
}

func (l *List) PushFront(v string) {
	l.grow()
	l.head = (l.head - 1 + len(l.buf)) % len(l.buf)
	l.buf[l.head] = v
	l.n++
}

func (l *List) PushBack(v string) {
	l.grow()
	l.buf[(l.head+l.n)%len(l.buf)] = v
	l.n++
}

func (l *List) PopFront() (string, bool) {
	if l.n == 0 {
		return "", false
	}
	v := l.buf[l.head]
	l.buf[l.head] = ""
	l.head = (l.head + 1) % len(l.buf)
	l.n--
	return v, true
}

func (l *List) PopBack() (string, bool) {
	if l.n == 0 {
		return "", false
	}
	i := (l.head + l.n - 1) % len(l.buf)
	v := l.buf[i]
	l.buf[i] = ""
	l.n--
	return v, true
}

// Index returns the element at i. Negative i counts from the tail
func (l *List) Index(i int) (string, bool) {
	i, ok := l.normalize(i)
	if !ok {
		return "", false
	}
	return l.buf[(l.head+i)%len(l.buf)], true
}

// SetAt replaces the element at i. Negative i counts from the tail
func (l *List) SetAt(i int, v string) bool {
	i, ok := l.normalize(i)
	if !ok {
		return false
	}
	l.buf[(l.head+i)%len(l.buf)] = v
	return true
}

// Range returns elements between start and stop inclusive, LRANGE style
func (l *List) Range(start, stop int) []string {
	if start < 0 {
		start += l.n
	}
	if stop < 0 {
		stop += l.n
	}
	if start < 0 {
		start = 0
	}
	if stop >= l.n {
		stop = l.n - 1
	}
	if start > stop || start >= l.n {
		return []string{}
	}

	out := make([]string, 0, stop-start+1)
	for i := start; i <= stop; i++ {
		out = append(out, l.buf[(l.head+i)%len(l.buf)])
	}
	return out
}

// Values returns every element from head to tail
func (l *List) Values() []string {
	return l.Range(0, -1)
}

func (l *List) Clone() *List {
	c := &List{buf: make([]string, len(l.buf))}
	for i := 0; i < l.n; i++ {
		c.buf[i] = l.buf[(l.head+i)%len(l.buf)]
	}
	c.n = l.n
	return c
}

func (l *List) normalize(i int) (int, bool) {
	if i < 0 {
		i += l.n
	}
	if i < 0 || i >= l.n {
		return 0, false
	}
	return i, true
}

func (l *List) grow() {
	if l.n < len(l.buf) {
		return
	}
	size := len(l.buf) * 2
	if size < minListCap {
		size = minListCap
	}
	buf := make([]string, size)
	for i := 0; i < l.n; i++ {
		buf[i] = l.buf[(l.head+i)%len(l.buf)]
	}
	l.buf = buf
	l.head = 0
}
