package redisd

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mvandenbrink/respkv/app/redisd/resp"
	"github.com/mvandenbrink/respkv/app/redisd/streams"
)

// Session is one client connection: a read-dispatch-write loop over a
// shared Keyspace. Grounded in flonle-diy-redis's Session/handleConn, with
// the inline command switch replaced by a command table and every command
// wrapped in its own panic recovery (spec.md §7 "Internal" errors).
type Session struct {
	conn net.Conn
	ks   *Keyspace
	r    *resp.Reader
	w    *resp.Writer
	log  *log.Logger
}

func newSession(conn net.Conn, ks *Keyspace) *Session {
	return &Session{
		conn: conn,
		ks:   ks,
		r:    resp.NewReader(conn),
		w:    resp.NewWriter(conn),
		log:  log.New(os.Stderr, conn.RemoteAddr().String()+" ", log.LstdFlags),
	}
}

// serve runs the read-dispatch-write loop until the client disconnects or a
// framing error closes the connection (spec.md §4.1, §7 "Protocol framing").
func (s *Session) serve() {
	defer s.conn.Close()
	for {
		cmd, err := s.r.ReadCommand()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Println("closing connection after framing error:", err)
			}
			return
		}

		reply := s.dispatch(cmd)
		if err := reply.WriteTo(s.w); err != nil {
			s.log.Println("write error:", err)
			return
		}
		if err := s.w.Flush(); err != nil {
			s.log.Println("flush error:", err)
			return
		}
	}
}

// dispatch runs one command, recovering from any panic inside its handler
// so a single bad command cannot take down the connection or the server
// (spec.md §7 "Internal" error taxonomy entry).
func (s *Session) dispatch(cmd [][]byte) (reply resp.Reply) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Println("recovered panic handling command:", r)
			reply = resp.Err(fmt.Sprintf("internal error: %v", r))
		}
	}()

	if len(cmd) == 0 {
		return resp.Err("unknown command")
	}
	name := strings.ToLower(string(cmd[0]))
	args := cmd[1:]

	handler, ok := commandTable[name]
	if !ok {
		return resp.Err("unknown command")
	}
	return handler(s, args)
}

type commandFunc func(s *Session, args [][]byte) resp.Reply

var commandTable = map[string]commandFunc{
	"ping":   cmdPing,
	"echo":   cmdEcho,
	"set":    cmdSet,
	"get":    cmdGet,
	"rpush":  cmdRPush,
	"lpush":  cmdLPush,
	"lrange": cmdLRange,
	"llen":   cmdLLen,
	"lpop":   cmdLPop,
	"blpop":  cmdBLPop,
	"type":   cmdType,
	"xadd":   cmdXAdd,
	"xrange": cmdXRange,
	"xread":  cmdXRead,
}

func cmdPing(s *Session, args [][]byte) resp.Reply {
	return resp.SimpleString("PONG")
}

func cmdEcho(s *Session, args [][]byte) resp.Reply {
	if len(args) != 1 {
		return resp.Err("wrong number of arguments for 'echo' command")
	}
	return resp.BulkString(args[0])
}

func cmdSet(s *Session, args [][]byte) resp.Reply {
	if len(args) < 2 {
		return resp.Err("wrong number of arguments for 'set' command")
	}
	key, val := string(args[0]), args[1]

	var ttl time.Duration
	hasTTL := false
	if len(args) > 2 {
		if len(args) != 4 {
			return resp.Err("syntax error")
		}
		opt := strings.ToLower(string(args[2]))
		n, err := strconv.ParseInt(string(args[3]), 10, 64)
		if err != nil || n <= 0 {
			return resp.Err("value is not an integer or out of range")
		}
		switch opt {
		case "ex":
			ttl, hasTTL = time.Duration(n)*time.Second, true
		case "px":
			ttl, hasTTL = time.Duration(n)*time.Millisecond, true
		default:
			return resp.Err("syntax error")
		}
	}

	s.ks.Set(key, val, ttl, hasTTL)
	return resp.SimpleString("OK")
}

func cmdGet(s *Session, args [][]byte) resp.Reply {
	if len(args) != 1 {
		return resp.Err("wrong number of arguments for 'get' command")
	}
	val, ok, err := s.ks.Get(string(args[0]))
	if err != nil {
		return resp.Err(err.Error())
	}
	if !ok {
		return resp.NullBulk{}
	}
	return resp.BulkString(val)
}

func cmdRPush(s *Session, args [][]byte) resp.Reply { return push(s, args, false) }
func cmdLPush(s *Session, args [][]byte) resp.Reply { return push(s, args, true) }

func push(s *Session, args [][]byte, left bool) resp.Reply {
	if len(args) < 2 {
		return resp.Err("wrong number of arguments for 'push' command")
	}
	n, err := s.ks.Push(string(args[0]), args[1:], left)
	if err != nil {
		return resp.Err(err.Error())
	}
	return resp.Integer(n)
}

func cmdLRange(s *Session, args [][]byte) resp.Reply {
	if len(args) != 3 {
		return resp.Err("wrong number of arguments for 'lrange' command")
	}
	lo, err1 := strconv.Atoi(string(args[1]))
	hi, err2 := strconv.Atoi(string(args[2]))
	if err1 != nil || err2 != nil {
		return resp.Err("value is not an integer or out of range")
	}
	items, err := s.ks.LRange(string(args[0]), lo, hi)
	if err != nil {
		return resp.Err(err.Error())
	}
	return bulkArray(items)
}

func cmdLLen(s *Session, args [][]byte) resp.Reply {
	if len(args) != 1 {
		return resp.Err("wrong number of arguments for 'llen' command")
	}
	n, err := s.ks.LLen(string(args[0]))
	if err != nil {
		return resp.Err(err.Error())
	}
	return resp.Integer(n)
}

func cmdLPop(s *Session, args [][]byte) resp.Reply {
	if len(args) < 1 || len(args) > 2 {
		return resp.Err("wrong number of arguments for 'lpop' command")
	}
	if len(args) == 1 {
		x, ok, err := s.ks.LPop(string(args[0]))
		if err != nil {
			return resp.Err(err.Error())
		}
		if !ok {
			return resp.NullBulk{}
		}
		return resp.BulkString(x)
	}
	n, err := strconv.Atoi(string(args[1]))
	if err != nil || n < 0 {
		return resp.Err("value is not an integer or out of range")
	}
	popped, err := s.ks.LPopMany(string(args[0]), n)
	if err != nil {
		return resp.Err(err.Error())
	}
	if popped == nil {
		return resp.NullBulk{}
	}
	return bulkArray(popped)
}

func cmdBLPop(s *Session, args [][]byte) resp.Reply {
	if len(args) != 2 {
		return resp.Err("wrong number of arguments for 'blpop' command")
	}
	secs, err := strconv.ParseFloat(string(args[1]), 64)
	if err != nil || secs < 0 {
		return resp.Err("timeout is not a float or out of range")
	}
	timeout := time.Duration(secs * float64(time.Second))

	key := string(args[0])
	x, ok, err := s.ks.BLPop(key, timeout)
	if err != nil {
		return resp.Err(err.Error())
	}
	if !ok {
		return resp.NullArray{}
	}
	return resp.Array{resp.BulkString(key), resp.BulkString(x)}
}

func cmdType(s *Session, args [][]byte) resp.Reply {
	if len(args) != 1 {
		return resp.Err("wrong number of arguments for 'type' command")
	}
	return resp.SimpleString(s.ks.Type(string(args[0])))
}

func cmdXAdd(s *Session, args [][]byte) resp.Reply {
	if len(args) < 3 {
		return resp.Err("wrong number of arguments for 'xadd' command")
	}
	key, idTemplate := string(args[0]), string(args[1])
	id, err := s.ks.XAdd(key, idTemplate, args[2:])
	if err != nil {
		return resp.Err(err.Error())
	}
	return resp.BulkString([]byte(id))
}

func cmdXRange(s *Session, args [][]byte) resp.Reply {
	if len(args) != 3 {
		return resp.Err("wrong number of arguments for 'xrange' command")
	}
	entries, err := s.ks.XRange(string(args[0]), string(args[1]), string(args[2]))
	if err != nil {
		return resp.Err(err.Error())
	}
	return entriesArray(entries)
}

func cmdXRead(s *Session, args [][]byte) resp.Reply {
	i := 0
	var blockMs int64 = -1
	hasBlock := false
	if i < len(args) && strings.EqualFold(string(args[i]), "block") {
		if i+1 >= len(args) {
			return resp.Err("syntax error")
		}
		n, err := strconv.ParseInt(string(args[i+1]), 10, 64)
		if err != nil || n < 0 {
			return resp.Err("timeout is not an integer or out of range")
		}
		blockMs = n
		hasBlock = true
		i += 2
	}
	if i >= len(args) || !strings.EqualFold(string(args[i]), "streams") {
		return resp.Err("syntax error")
	}
	i++

	rest := args[i:]
	if len(rest) == 0 || len(rest)%2 != 0 {
		return resp.Err("Unbalanced XREAD list of streams: for each stream key an ID or '$' must be specified.")
	}
	n := len(rest) / 2
	keys := make([]string, n)
	ids := make([]string, n)
	for j := 0; j < n; j++ {
		keys[j] = string(rest[j])
		ids[j] = string(rest[n+j])
	}

	block := time.Duration(blockMs) * time.Millisecond
	results, ok, err := s.ks.XRead(keys, ids, block, hasBlock)
	if err != nil {
		return resp.Err(err.Error())
	}
	if !ok {
		return resp.NullArray{}
	}

	out := make(resp.Array, len(results))
	for i, r := range results {
		out[i] = resp.Array{resp.BulkString(r.key), entriesArray(r.entries)}
	}
	return out
}

func bulkArray(items [][]byte) resp.Array {
	out := make(resp.Array, len(items))
	for i, x := range items {
		out[i] = resp.BulkString(x)
	}
	return out
}

func entriesArray(entries []streams.Entry) resp.Array {
	out := make(resp.Array, len(entries))
	for i, e := range entries {
		out[i] = resp.Array{resp.BulkString([]byte(e.ID.String())), bulkArray(e.Fields)}
	}
	return out
}
