package packet

import (
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
)

// Decoder turns raw UDP payload into a Request. A decode error means the
// datagram is malformed; the server logs and discards it.
type Decoder func(b []byte) (Request, error)

// Encoder packs a reply code and ordered attributes into wire bytes. The
// original request supplies the identifier and the authenticator input.
type Encoder func(code int, attrs *Attributes, req Request) ([]byte, error)

// Codec binds a shared secret to a Decoder/Encoder pair.
type Codec struct {
	secret []byte
}

// NewCodec returns a codec using the given shared secret for authenticator
// computation and User-Password decryption.
func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

// Decode parses a RADIUS datagram.
func (c *Codec) Decode(b []byte) (Request, error) {
	p, err := radius.Parse(b, c.secret)
	if err != nil {
		return nil, fmt.Errorf("parse radius packet: %w", err)
	}
	return &Decoded{pkt: p}, nil
}

// Encode builds the reply for req with the given code and attributes.
func (c *Codec) Encode(code int, attrs *Attributes, req Request) ([]byte, error) {
	d, ok := req.(*Decoded)
	if !ok {
		return nil, fmt.Errorf("cannot encode a reply to a synthesized request")
	}

	resp := d.pkt.Response(radius.Code(code))
	if attrs != nil {
		for pair := attrs.Oldest(); pair != nil; pair = pair.Next() {
			typ, attr, err := encodeValue(pair.Key, pair.Value)
			if err != nil {
				return nil, fmt.Errorf("attribute %s: %w", pair.Key, err)
			}
			resp.Attributes.Add(typ, attr)
		}
	}

	b, err := resp.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode radius reply: %w", err)
	}
	return b, nil
}

// Decoded wraps a parsed wire packet. It keeps the underlying packet so the
// encoder can derive the reply authenticator from it.
type Decoded struct {
	pkt *radius.Packet
}

var _ Request = (*Decoded)(nil)

func (d *Decoded) Code() int { return int(d.pkt.Code) }
func (d *Decoded) ID() int   { return int(d.pkt.Identifier) }

// Keys returns the attribute names present, in wire order, deduplicated.
func (d *Decoded) Keys() []string {
	var names []string
	seen := make(map[radius.Type]bool)
	for _, avp := range d.pkt.Attributes {
		if seen[avp.Type] {
			continue
		}
		seen[avp.Type] = true
		names = append(names, AttributeName(avp.Type))
	}
	return names
}

// Values returns every decoded value of the named attribute, in wire order.
func (d *Decoded) Values(name string) []any {
	typ, kind, ok := resolveName(name)
	if !ok {
		return nil
	}

	var vals []any
	for _, avp := range d.pkt.Attributes {
		if avp.Type != typ {
			continue
		}
		vals = append(vals, decodeValue(kind, avp.Attribute))
	}
	return vals
}

// Password returns the decrypted User-Password. Only meaningful for
// Access-Requests; the policy path treats the password as opaque, this is
// here for downstream consumers.
func (d *Decoded) Password() (string, error) {
	return rfc2865.UserPassword_LookupString(d.pkt)
}

// resolveName maps a dictionary name, or the Attr-<N> placeholder produced
// by Keys for unknown types, back to a wire type.
func resolveName(name string) (radius.Type, Kind, bool) {
	if typ, kind, ok := LookupAttribute(name); ok {
		return typ, kind, true
	}
	if n, found := strings.CutPrefix(name, "Attr-"); found {
		if t, err := strconv.Atoi(n); err == nil && t > 0 && t < 256 {
			return radius.Type(t), KindOctets, true
		}
	}
	return 0, 0, false
}

func decodeValue(kind Kind, attr radius.Attribute) any {
	switch kind {
	case KindString:
		return radius.String(attr)
	case KindInteger:
		v, err := radius.Integer(attr)
		if err != nil {
			return []byte(attr)
		}
		return int(v)
	case KindIPAddr:
		ip, err := radius.IPAddr(attr)
		if err != nil {
			return []byte(attr)
		}
		return ip.String()
	case KindIPv6Addr:
		ip, err := radius.IPv6Addr(attr)
		if err != nil {
			return []byte(attr)
		}
		return ip.String()
	case KindIPv6Prefix:
		n, err := radius.IPv6Prefix(attr)
		if err != nil {
			return []byte(attr)
		}
		return n.String()
	case KindInterfaceID:
		ifid, err := radius.IFID(attr)
		if err != nil {
			return []byte(attr)
		}
		return ifid.String()
	case KindDate:
		t, err := radius.Date(attr)
		if err != nil {
			return []byte(attr)
		}
		return int(t.Unix())
	default:
		b := make([]byte, len(attr))
		copy(b, attr)
		return b
	}
}

func encodeValue(name string, v any) (radius.Type, radius.Attribute, error) {
	typ, kind, ok := LookupAttribute(name)
	if !ok {
		return 0, nil, fmt.Errorf("unknown attribute")
	}

	switch kind {
	case KindString:
		attr, err := radius.NewString(Stringify(v))
		return typ, attr, err

	case KindInteger:
		n, err := toUint32(v)
		if err != nil {
			return 0, nil, err
		}
		return typ, radius.NewInteger(n), nil

	case KindIPAddr:
		ip := net.ParseIP(Stringify(v))
		if ip == nil || ip.To4() == nil {
			return 0, nil, fmt.Errorf("invalid IPv4 address %q", Stringify(v))
		}
		attr, err := radius.NewIPAddr(ip)
		return typ, attr, err

	case KindIPv6Addr:
		ip := net.ParseIP(Stringify(v))
		if ip == nil || ip.To4() != nil {
			return 0, nil, fmt.Errorf("invalid IPv6 address %q", Stringify(v))
		}
		attr, err := radius.NewIPv6Addr(ip)
		return typ, attr, err

	case KindIPv6Prefix:
		_, ipnet, err := net.ParseCIDR(Stringify(v))
		if err != nil {
			return 0, nil, fmt.Errorf("invalid IPv6 prefix %q: %w", Stringify(v), err)
		}
		attr, err := radius.NewIPv6Prefix(ipnet)
		return typ, attr, err

	case KindInterfaceID:
		hw, err := net.ParseMAC(Stringify(v))
		if err != nil {
			return 0, nil, fmt.Errorf("invalid interface id %q: %w", Stringify(v), err)
		}
		attr, err := radius.NewIFID(hw)
		return typ, attr, err

	case KindDate:
		n, err := toUint32(v)
		if err != nil {
			return 0, nil, err
		}
		attr, err := radius.NewDate(time.Unix(int64(n), 0))
		return typ, attr, err

	default: // KindOctets
		attr, err := octetsAttribute(v)
		return typ, attr, err
	}
}

// octetsAttribute renders a value as raw bytes; "0x"-prefixed strings are
// unhexed first.
func octetsAttribute(v any) (radius.Attribute, error) {
	switch val := v.(type) {
	case []byte:
		return radius.NewBytes(val)
	case string:
		if strings.HasPrefix(val, "0x") {
			b, err := hex.DecodeString(val[2:])
			if err != nil {
				return nil, fmt.Errorf("invalid hex value %q: %w", val, err)
			}
			return radius.NewBytes(b)
		}
		return radius.NewBytes([]byte(val))
	default:
		return radius.NewBytes([]byte(Stringify(v)))
	}
}

func toUint32(v any) (uint32, error) {
	switch val := v.(type) {
	case int:
		return uint32(val), nil
	case int64:
		return uint32(val), nil
	case uint32:
		return val, nil
	case uint64:
		return uint32(val), nil
	case float64:
		return uint32(val), nil
	case string:
		n, err := strconv.ParseUint(val, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid integer value %q", val)
		}
		return uint32(n), nil
	default:
		return 0, fmt.Errorf("invalid integer value %v", v)
	}
}
