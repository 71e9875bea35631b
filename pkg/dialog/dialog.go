// Package dialog persists request/reply dialogs to Redis.
//
// Each dialog is serialized to JSON and right-pushed onto a list whose key
// (the token) is derived from configured attribute names; the key TTL is
// refreshed on every push. Key and payload shape are consumed by downstream
// inspection tooling, so they are an external contract.
package dialog

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marmos91/radiusd/pkg/packet"
)

// tsStrLayout renders the human-readable reply timestamp: DD.MM.YYYY, HH:MM:SS.
const tsStrLayout = "02.01.2006, 15:04:05"

// Config selects the token attribute lists per request code and the
// retention of stored dialogs.
type Config struct {
	Prefix   string
	Expiry   time.Duration
	AuthKeys []string
	AcctKeys []string
	CoAKeys  []string
	DiscKeys []string
}

// Store writes dialogs to a Redis list per token.
type Store struct {
	client redis.UniversalClient
	cfg    Config
	now    func() time.Time
}

// New returns a store writing through the given client.
func New(client redis.UniversalClient, cfg Config) *Store {
	return &Store{
		client: client,
		cfg:    cfg,
		now:    time.Now,
	}
}

// StoreDialog persists the (request, reply) pair observed from the given
// client address and returns the token it was stored under. A nil reply is
// persisted with the null reply shape.
func (s *Store) StoreDialog(ctx context.Context, req packet.Request, reply packet.Request, host string, port int) (string, error) {
	token := s.BuildToken(req, reply)

	dialog := map[string]any{
		"request": s.packetSnapshot(req, host, port),
		"reply":   s.replySnapshot(reply),
	}

	payload, err := json.Marshal(dialog)
	if err != nil {
		return "", fmt.Errorf("marshal dialog: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, token, payload)
		pipe.Expire(ctx, token, s.cfg.Expiry)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("store dialog %q: %w", token, err)
	}

	return token, nil
}

// BuildToken derives the storage key for a dialog. It is a pure function of
// the configuration and the two packets; collisions are allowed and append
// to the same list.
func (s *Store) BuildToken(req packet.Request, reply packet.Request) string {
	keys := s.keyList(req.Code())

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		switch key {
		case "code":
			parts = append(parts, strconv.Itoa(req.Code()))
		case "id":
			parts = append(parts, strconv.Itoa(req.ID()))
		default:
			if v, ok := packet.FirstString(req, key); ok {
				parts = append(parts, v)
			} else if reply != nil {
				v, _ := packet.FirstString(reply, key)
				parts = append(parts, v)
			} else {
				parts = append(parts, "")
			}
		}
	}

	return s.cfg.Prefix + strings.Join(parts, "__")
}

// keyList picks the attribute-name list for a request code. Codes outside
// the table store under the bare prefix.
func (s *Store) keyList(code int) []string {
	switch code {
	case packet.CodeAccessRequest:
		return s.cfg.AuthKeys
	case packet.CodeAccountingRequest:
		return s.cfg.AcctKeys
	case packet.CodeCoARequest:
		return s.cfg.CoAKeys
	case packet.CodeDisconnectRequest:
		return s.cfg.DiscKeys
	default:
		return nil
	}
}

func (s *Store) packetSnapshot(req packet.Request, host string, port int) map[string]any {
	out := map[string]any{
		"_code": req.Code(),
		"_id":   req.ID(),
		"_host": host,
		"_port": port,
	}
	addAttributes(out, req)
	return out
}

func (s *Store) replySnapshot(reply packet.Request) map[string]any {
	now := s.now()
	out := map[string]any{
		"_ts":    now.UnixMilli(),
		"_tsStr": now.Format(tsStrLayout),
	}

	if reply == nil {
		out["_code"] = nil
		out["_id"] = nil
		return out
	}

	out["_code"] = reply.Code()
	out["_id"] = reply.ID()
	addAttributes(out, reply)
	return out
}

func addAttributes(out map[string]any, p packet.Request) {
	for _, key := range p.Keys() {
		// Never persist the password, not even encrypted.
		if key == "User-Password" {
			out[key] = "encryptedValue"
			continue
		}

		values := p.Values(key)
		if len(values) == 1 {
			out[key] = jsonable(values[0])
			continue
		}
		list := make([]any, 0, len(values))
		for _, v := range values {
			list = append(list, jsonable(v))
		}
		out[key] = list
	}
}

// jsonable converts binary values to bare lowercase hex strings.
func jsonable(v any) any {
	if b, ok := v.([]byte); ok {
		return hex.EncodeToString(b)
	}
	return v
}
