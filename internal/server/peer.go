package server

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eternalApril/rudis/internal/resp"
)

// PeerState is the position of a connection in its request cycle
type PeerState int32

const (
	AwaitingCommand PeerState = iota
	ParsingArguments
	Dispatching
)

func (s PeerState) String() string {
	switch s {
	case AwaitingCommand:
		return "awaiting"
	case ParsingArguments:
		return "parsing"
	case Dispatching:
		return "dispatching"
	}
	return "unknown"
}

var peerIDs atomic.Int64

// queuedCommand is a command accepted between MULTI and EXEC
type queuedCommand struct {
	name string
	args [][]byte
}

// Peer represents a connected client.
// It wraps a network connection and provides synchronized methods for reading and writing RESP-encoded data
type Peer struct {
	conn   net.Conn
	reader resp.Reader
	writer resp.Writer
	mu     sync.Mutex

	id        int64
	createdAt time.Time
	state     atomic.Int32
	db        atomic.Int32
	lastCmd   atomic.Value // string

	authenticated bool
	closing       bool // set by QUIT, the connection is closed after the reply

	inMulti     bool
	multiFailed bool
	queue       []queuedCommand

	nameMu sync.Mutex
	name   string
}

// NewPeer initializes a new client peer from a network connection. conn may be nil for internal clients
func NewPeer(conn net.Conn) *Peer {
	p := &Peer{
		conn:          conn,
		id:            peerIDs.Add(1),
		createdAt:     time.Now(),
		authenticated: false,
	}
	if conn != nil {
		p.reader = resp.NewDecoder(conn)
		p.writer = resp.NewEncoder(conn)
	}
	p.lastCmd.Store("NULL")
	return p
}

// ID returns the unique client id
func (p *Peer) ID() int64 {
	return p.id
}

// State returns where the peer is in its request cycle
func (p *Peer) State() PeerState {
	return PeerState(p.state.Load())
}

func (p *Peer) setState(s PeerState) {
	p.state.Store(int32(s))
}

// DB returns the selected database index
func (p *Peer) DB() int {
	return int(p.db.Load())
}

func (p *Peer) selectDB(index int) {
	p.db.Store(int32(index))
}

// Name returns the name set with CLIENT SETNAME
func (p *Peer) Name() string {
	p.nameMu.Lock()
	defer p.nameMu.Unlock()
	return p.name
}

func (p *Peer) setName(name string) {
	p.nameMu.Lock()
	p.name = name
	p.nameMu.Unlock()
}

// Addr returns the remote address
func (p *Peer) Addr() string {
	if p.conn == nil {
		return ""
	}
	return p.conn.RemoteAddr().String()
}

// Closing reports whether the connection must be closed after the pending replies are flushed
func (p *Peer) Closing() bool {
	return p.closing
}

// info renders the CLIENT LIST line of the peer
func (p *Peer) info(now time.Time) string {
	var b strings.Builder
	b.WriteString("id=")
	b.WriteString(strconv.FormatInt(p.id, 10))
	b.WriteString(" addr=")
	b.WriteString(p.Addr())
	b.WriteString(" name=")
	b.WriteString(p.Name())
	b.WriteString(" age=")
	b.WriteString(strconv.FormatInt(int64(now.Sub(p.createdAt)/time.Second), 10))
	b.WriteString(" db=")
	b.WriteString(strconv.Itoa(p.DB()))
	b.WriteString(" state=")
	b.WriteString(p.State().String())
	b.WriteString(" cmd=")
	b.WriteString(strings.ToLower(p.lastCmd.Load().(string)))
	return b.String()
}

// Send encodes and writes a RESP value to the client.
// This method is thread-safe and can be called from multiple goroutines
func (p *Peer) Send(v resp.Value) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writer.Write(v)
}

// ReadCommand reads and decodes the next RESP value from the client's input stream
func (p *Peer) ReadCommand() (resp.Value, error) {
	p.setState(AwaitingCommand)
	return p.reader.Read()
}

// Close terminates the underlying network connection
func (p *Peer) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

// Flush sends all buffered data to the client
func (p *Peer) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writer.Flush()
}

// InputBuffered returns the number of bytes that can be read from the current buffer
func (p *Peer) InputBuffered() int {
	return p.reader.Buffered()
}

// interrupt unblocks a pending read so the connection loop can exit
func (p *Peer) interrupt() {
	if p.conn != nil {
		p.conn.SetReadDeadline(time.Now()) //nolint:errcheck
	}
}
