package redis

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// Command is one request: an ordered list of binary-safe arguments, the
// first being the command name.
type Command [][]byte

// Cmd builds a Command. Strings and byte slices are used as-is; integers and
// floats are formatted in decimal; anything else goes through fmt.
func Cmd(args ...any) Command {
	cmd := make(Command, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case []byte:
			cmd[i] = v
		case string:
			cmd[i] = []byte(v)
		case int:
			cmd[i] = strconv.AppendInt(nil, int64(v), 10)
		case int64:
			cmd[i] = strconv.AppendInt(nil, v, 10)
		case uint64:
			cmd[i] = strconv.AppendUint(nil, v, 10)
		case float64:
			cmd[i] = strconv.AppendFloat(nil, v, 'f', -1, 64)
		default:
			cmd[i] = fmt.Append(nil, v)
		}
	}
	return cmd
}

// Name returns the command name, for logging.
func (c Command) Name() string {
	if len(c) == 0 {
		return ""
	}
	return string(c[0])
}

// appendCommand encodes cmd as a RESP array of bulk strings.
func appendCommand(buf *bytes.Buffer, cmd Command) {
	buf.WriteByte('*')
	buf.WriteString(strconv.Itoa(len(cmd)))
	buf.WriteString("\r\n")
	for _, arg := range cmd {
		buf.WriteByte('$')
		buf.WriteString(strconv.Itoa(len(arg)))
		buf.WriteString("\r\n")
		buf.Write(arg)
		buf.WriteString("\r\n")
	}
}

// Upper bounds for a single bulk reply and a single array reply.
const (
	maxBulkLen  = 512 << 20
	maxArrayLen = 1 << 24
)

// readReply decodes one reply. I/O errors are returned as-is; malformed
// input is returned as a *ProtocolError. The error is Fatal whenever the end
// of the reply can no longer be located in the stream.
func readReply(r *bufio.Reader) (Reply, error) {
	line, err := readLine(r)
	if err != nil {
		return Reply{}, err
	}
	if len(line) == 0 {
		return Reply{}, &ProtocolError{Msg: "empty line"}
	}

	payload := line[1:]
	switch line[0] {
	case '+':
		return Reply{Type: ReplyStatus, Str: payload}, nil
	case '-':
		return Reply{Type: ReplyError, Str: payload}, nil
	case ':':
		n, err := strconv.ParseInt(string(payload), 10, 64)
		if err != nil {
			return Reply{}, &ProtocolError{Msg: fmt.Sprintf("bad integer %q", payload)}
		}
		return Reply{Type: ReplyInteger, Int: n}, nil
	case '$':
		return readBulk(r, payload)
	case '*':
		return readArray(r, payload)
	default:
		return Reply{}, &ProtocolError{Msg: fmt.Sprintf("unknown reply type %q", line[0]), Fatal: true}
	}
}

func readBulk(r *bufio.Reader, header []byte) (Reply, error) {
	n, err := strconv.Atoi(string(header))
	if err != nil || n < -1 || n > maxBulkLen {
		return Reply{}, &ProtocolError{Msg: fmt.Sprintf("bad bulk length %q", header), Fatal: true}
	}
	if n == -1 {
		return Reply{Type: ReplyNil}, nil
	}

	buf := make([]byte, n+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Reply{}, err
	}
	if buf[n] != '\r' || buf[n+1] != '\n' {
		return Reply{}, &ProtocolError{Msg: "bulk string not terminated by CRLF", Fatal: true}
	}
	return Reply{Type: ReplyBulk, Str: buf[:n]}, nil
}

func readArray(r *bufio.Reader, header []byte) (Reply, error) {
	n, err := strconv.Atoi(string(header))
	if err != nil || n < -1 || n > maxArrayLen {
		return Reply{}, &ProtocolError{Msg: fmt.Sprintf("bad array length %q", header), Fatal: true}
	}
	if n == -1 {
		return Reply{Type: ReplyNil}, nil
	}

	elems := make([]Reply, n)
	for i := range elems {
		elems[i], err = readReply(r)
		if err != nil {
			if perr, ok := err.(*ProtocolError); ok {
				// The remaining elements can no longer be located.
				return Reply{}, &ProtocolError{Msg: fmt.Sprintf("array element %d: %s", i, perr.Msg), Fatal: true}
			}
			return Reply{}, err
		}
	}
	return Reply{Type: ReplyArray, Elems: elems}, nil
}

// readLine returns the next line without its CRLF terminator.
func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, &ProtocolError{Msg: fmt.Sprintf("line %q not terminated by CRLF", line)}
	}
	return line[:len(line)-2], nil
}
