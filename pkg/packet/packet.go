// Package packet defines the view the policy engine has of a RADIUS packet
// and the codec that maps it onto the wire via layeh.com/radius.
//
// The rest of the server never touches wire bytes: the match engine, reply
// builder and dialog store all consume the Request interface, and the reply
// side hands an ordered attribute map back to the codec.
package packet

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// RADIUS packet codes handled or referenced by the server.
const (
	CodeAccessRequest      = 1
	CodeAccessAccept       = 2
	CodeAccessReject       = 3
	CodeAccountingRequest  = 4
	CodeAccountingResponse = 5
	CodeAccessChallenge    = 11
	CodeDisconnectRequest  = 40
	CodeCoARequest         = 43
)

// Attributes is an insertion-ordered attribute map. Order matters: directive
// evaluation allocates from pools as a side effect, so templates must be
// materialized in their declared order.
type Attributes = orderedmap.OrderedMap[string, any]

// NewAttributes returns an empty ordered attribute map.
func NewAttributes() *Attributes {
	return orderedmap.New[string, any]()
}

// Request is the read-only view of a decoded packet. Values returns every
// value carried for the attribute, in wire order; decoded values are string,
// int or []byte depending on the dictionary type.
type Request interface {
	Code() int
	ID() int
	Keys() []string
	Values(name string) []any
}

// FirstValue returns the first value of an attribute, or false when the
// request does not carry it.
func FirstValue(r Request, name string) (any, bool) {
	vals := r.Values(name)
	if len(vals) == 0 {
		return nil, false
	}
	return vals[0], true
}

// FirstString is FirstValue with the value rendered as a string.
func FirstString(r Request, name string) (string, bool) {
	v, ok := FirstValue(r, name)
	if !ok {
		return "", false
	}
	return Stringify(v), true
}

// Stringify renders a decoded attribute value the way it is matched against
// regexes and embedded in dialog tokens.
func Stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

// View is a synthesized packet, used for the reply side of a persisted
// dialog: the reply only exists as code + materialized attributes until the
// codec packs it, so the store gets this stand-in.
type View struct {
	code  int
	id    int
	names []string
	attrs map[string][]any
}

var _ Request = (*View)(nil)

// NewView builds a packet view from a code, an id and an ordered attribute
// map. Key order follows the map's insertion order.
func NewView(code, id int, attrs *Attributes) *View {
	v := &View{
		code:  code,
		id:    id,
		attrs: make(map[string][]any),
	}
	if attrs != nil {
		for pair := attrs.Oldest(); pair != nil; pair = pair.Next() {
			v.names = append(v.names, pair.Key)
			v.attrs[pair.Key] = append(v.attrs[pair.Key], pair.Value)
		}
	}
	return v
}

func (v *View) Code() int { return v.code }
func (v *View) ID() int   { return v.id }

func (v *View) Keys() []string {
	out := make([]string, len(v.names))
	copy(out, v.names)
	return out
}

func (v *View) Values(name string) []any {
	return v.attrs[name]
}
