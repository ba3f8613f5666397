package redis

import (
	"fmt"
	"strconv"
	"strings"
)

// ReplyType tags the kind of value a Reply holds.
type ReplyType int

const (
	ReplyNil ReplyType = iota
	ReplyStatus
	ReplyError
	ReplyInteger
	ReplyBulk
	ReplyArray
)

func (t ReplyType) String() string {
	switch t {
	case ReplyNil:
		return "nil"
	case ReplyStatus:
		return "status"
	case ReplyError:
		return "error"
	case ReplyInteger:
		return "integer"
	case ReplyBulk:
		return "bulk"
	case ReplyArray:
		return "array"
	default:
		return "ReplyType(" + strconv.Itoa(int(t)) + ")"
	}
}

// Reply is one decoded backend reply. Str holds the payload of status,
// error and bulk replies, Int the value of integer replies and Elems the
// elements of array replies. A nil bulk string and a nil array both decode
// to ReplyNil.
type Reply struct {
	Type  ReplyType
	Str   []byte
	Int   int64
	Elems []Reply
}

// Err returns a *ServerError for error replies and nil otherwise.
func (r Reply) Err() error {
	if r.Type != ReplyError {
		return nil
	}
	return &ServerError{Msg: string(r.Str)}
}

func (r Reply) IsNil() bool {
	return r.Type == ReplyNil
}

// Text returns the payload of a status, error or bulk reply as a string.
func (r Reply) Text() string {
	return string(r.Str)
}

// Integer returns the value of an integer reply.
func (r Reply) Integer() (int64, bool) {
	return r.Int, r.Type == ReplyInteger
}

// Map interprets an array reply of alternating names and values, as
// returned by HGETALL. Names must be status or bulk replies.
func (r Reply) Map() (map[string]Reply, error) {
	switch r.Type {
	case ReplyNil:
		return map[string]Reply{}, nil
	case ReplyArray:
	default:
		return nil, fmt.Errorf("%w: expected array, got %s", ErrUnexpectedReply, r.Type)
	}
	if len(r.Elems)%2 != 0 {
		return nil, fmt.Errorf("%w: array of %d elements is not a set of pairs", ErrUnexpectedReply, len(r.Elems))
	}

	m := make(map[string]Reply, len(r.Elems)/2)
	for i := 0; i < len(r.Elems); i += 2 {
		name := r.Elems[i]
		if name.Type != ReplyBulk && name.Type != ReplyStatus {
			return nil, fmt.Errorf("%w: field name at %d is %s", ErrUnexpectedReply, i, name.Type)
		}
		m[string(name.Str)] = r.Elems[i+1]
	}
	return m, nil
}

func (r Reply) String() string {
	switch r.Type {
	case ReplyNil:
		return "(nil)"
	case ReplyStatus:
		return string(r.Str)
	case ReplyError:
		return "(error) " + string(r.Str)
	case ReplyInteger:
		return "(integer) " + strconv.FormatInt(r.Int, 10)
	case ReplyBulk:
		return strconv.Quote(string(r.Str))
	case ReplyArray:
		parts := make([]string, len(r.Elems))
		for i, e := range r.Elems {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, " ") + "]"
	default:
		return r.Type.String()
	}
}
