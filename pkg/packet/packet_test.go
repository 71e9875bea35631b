package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2866"
)

const testSecret = "s3cr3t"

func encodeAccessRequest(t *testing.T, id byte, build func(p *radius.Packet)) []byte {
	t.Helper()
	p := radius.New(radius.CodeAccessRequest, []byte(testSecret))
	p.Identifier = id
	if build != nil {
		build(p)
	}
	b, err := p.Encode()
	require.NoError(t, err)
	return b
}

func TestDecode(t *testing.T) {
	codec := NewCodec(testSecret)

	t.Run("ExposesCodeIDAndAttributes", func(t *testing.T) {
		b := encodeAccessRequest(t, 7, func(p *radius.Packet) {
			rfc2865.UserName_SetString(p, "alice")
			rfc2865.NASPort_Set(p, 15)
		})

		req, err := codec.Decode(b)
		require.NoError(t, err)

		assert.Equal(t, CodeAccessRequest, req.Code())
		assert.Equal(t, 7, req.ID())
		assert.Equal(t, []string{"User-Name", "NAS-Port"}, req.Keys())
		assert.Equal(t, []any{"alice"}, req.Values("User-Name"))
		assert.Equal(t, []any{15}, req.Values("NAS-Port"))
	})

	t.Run("FirstStringAndMissingAttribute", func(t *testing.T) {
		b := encodeAccessRequest(t, 1, func(p *radius.Packet) {
			rfc2865.UserName_SetString(p, "bob")
		})
		req, err := codec.Decode(b)
		require.NoError(t, err)

		v, ok := FirstString(req, "User-Name")
		require.True(t, ok)
		assert.Equal(t, "bob", v)

		_, ok = FirstString(req, "Calling-Station-Id")
		assert.False(t, ok)
		assert.Nil(t, req.Values("Calling-Station-Id"))
	})

	t.Run("RepeatedAttributeKeepsWireOrder", func(t *testing.T) {
		b := encodeAccessRequest(t, 2, func(p *radius.Packet) {
			rfc2865.ProxyState_Add(p, []byte("one"))
			rfc2865.ProxyState_Add(p, []byte("two"))
		})
		req, err := codec.Decode(b)
		require.NoError(t, err)

		assert.Equal(t, []string{"Proxy-State"}, req.Keys())
		assert.Equal(t, []any{[]byte("one"), []byte("two")}, req.Values("Proxy-State"))
	})

	t.Run("MalformedDatagramFails", func(t *testing.T) {
		_, err := codec.Decode([]byte{0x01, 0x02, 0x03})
		assert.Error(t, err)
	})
}

func TestEncode(t *testing.T) {
	codec := NewCodec(testSecret)

	decodeRequest := func(t *testing.T, id byte) Request {
		t.Helper()
		b := encodeAccessRequest(t, id, func(p *radius.Packet) {
			rfc2865.UserName_SetString(p, "alice")
		})
		req, err := codec.Decode(b)
		require.NoError(t, err)
		return req
	}

	t.Run("ReplyCarriesRequestIdentifier", func(t *testing.T) {
		req := decodeRequest(t, 42)

		attrs := NewAttributes()
		attrs.Set("Reply-Message", "OK")
		attrs.Set("Framed-IP-Address", "10.0.0.1")
		attrs.Set("Session-Timeout", 3600)

		b, err := codec.Encode(CodeAccessAccept, attrs, req)
		require.NoError(t, err)

		reply, err := radius.Parse(b, []byte(testSecret))
		require.NoError(t, err)
		assert.Equal(t, radius.CodeAccessAccept, reply.Code)
		assert.Equal(t, byte(42), reply.Identifier)
		assert.Equal(t, "OK", rfc2865.ReplyMessage_GetString(reply))
		assert.Equal(t, "10.0.0.1", rfc2865.FramedIPAddress_Get(reply).String())
		assert.Equal(t, rfc2865.SessionTimeout(3600), rfc2865.SessionTimeout_Get(reply))
	})

	t.Run("HexStringUnhexedForOctets", func(t *testing.T) {
		req := decodeRequest(t, 3)

		attrs := NewAttributes()
		attrs.Set("Class", "0xdeadbeef")

		b, err := codec.Encode(CodeAccessAccept, attrs, req)
		require.NoError(t, err)

		reply, err := radius.Parse(b, []byte(testSecret))
		require.NoError(t, err)
		assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, []byte(rfc2865.Class_Get(reply)))
	})

	t.Run("PlainStringForOctetsPassesRaw", func(t *testing.T) {
		req := decodeRequest(t, 4)

		attrs := NewAttributes()
		attrs.Set("Class", "plain-value")

		b, err := codec.Encode(CodeAccessAccept, attrs, req)
		require.NoError(t, err)

		reply, err := radius.Parse(b, []byte(testSecret))
		require.NoError(t, err)
		assert.Equal(t, "plain-value", string(rfc2865.Class_Get(reply)))
	})

	t.Run("UnknownAttributeNameFails", func(t *testing.T) {
		req := decodeRequest(t, 5)

		attrs := NewAttributes()
		attrs.Set("No-Such-Attribute", "x")

		_, err := codec.Encode(CodeAccessAccept, attrs, req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "No-Such-Attribute")
	})

	t.Run("SynthesizedRequestCannotBeEncoded", func(t *testing.T) {
		view := NewView(CodeAccessAccept, 1, nil)
		_, err := codec.Encode(CodeAccessAccept, NewAttributes(), view)
		assert.Error(t, err)
	})
}

func TestAccountingDecode(t *testing.T) {
	codec := NewCodec(testSecret)

	p := radius.New(radius.CodeAccountingRequest, []byte(testSecret))
	p.Identifier = 9
	rfc2865.UserName_SetString(p, "alice")
	rfc2866.AcctStatusType_Set(p, rfc2866.AcctStatusType_Value_Start)
	rfc2866.AcctSessionID_SetString(p, "sess-01")
	b, err := p.Encode()
	require.NoError(t, err)

	req, err := codec.Decode(b)
	require.NoError(t, err)

	assert.Equal(t, CodeAccountingRequest, req.Code())
	assert.Equal(t, []any{1}, req.Values("Acct-Status-Type"))
	assert.Equal(t, []any{"sess-01"}, req.Values("Acct-Session-Id"))
}

func TestView(t *testing.T) {
	attrs := NewAttributes()
	attrs.Set("Reply-Message", "OK")
	attrs.Set("Framed-IP-Address", "10.0.0.1")

	v := NewView(CodeAccessAccept, 7, attrs)

	assert.Equal(t, CodeAccessAccept, v.Code())
	assert.Equal(t, 7, v.ID())
	assert.Equal(t, []string{"Reply-Message", "Framed-IP-Address"}, v.Keys())
	assert.Equal(t, []any{"OK"}, v.Values("Reply-Message"))
	assert.Nil(t, v.Values("User-Name"))

	t.Run("NilAttributesAreEmpty", func(t *testing.T) {
		v := NewView(CodeAccessReject, 1, nil)
		assert.Empty(t, v.Keys())
	})
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "alice", Stringify("alice"))
	assert.Equal(t, "raw", Stringify([]byte("raw")))
	assert.Equal(t, "42", Stringify(42))
}
