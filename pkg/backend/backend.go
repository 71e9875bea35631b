// Package backend orchestrates the policy decision for one request: rule
// matching, pool allocation, reply building and dialog persistence.
package backend

import (
	"context"
	"fmt"

	"github.com/marmos91/radiusd/internal/logger"
	"github.com/marmos91/radiusd/pkg/match"
	"github.com/marmos91/radiusd/pkg/metrics"
	"github.com/marmos91/radiusd/pkg/packet"
	"github.com/marmos91/radiusd/pkg/policy"
	"github.com/marmos91/radiusd/pkg/pool"
	"github.com/marmos91/radiusd/pkg/reply"
)

// defaultTarget is the fallback name used when no rule group matches.
const defaultTarget = "default"

// Result is the outcome of handling one request. ReplyCode 0 with nil
// attributes means no reply is sent; the client will retry.
type Result struct {
	ReplyCode       int
	ReplyAttributes *packet.Attributes
	DialogToken     string
}

// HasReply reports whether a reply should be encoded and sent.
func (r Result) HasReply() bool {
	return r.ReplyCode != 0 && r.ReplyAttributes != nil
}

// DialogStore is the persistence dependency. A nil store disables
// persistence entirely.
type DialogStore interface {
	StoreDialog(ctx context.Context, req packet.Request, reply packet.Request, host string, port int) (string, error)
}

// Backend holds the immutable policy plus the mutable pool runtimes.
type Backend struct {
	pol   *policy.Policy
	pools map[string]*pool.Runtime

	poolRules *match.Engine
	authRules *match.Engine
	acctRules *match.Engine

	store   DialogStore
	metrics *metrics.ServerMetrics
}

// New builds the backend from a validated policy. Rule compilation and pool
// expansion failures abort startup. m may be nil when metrics are disabled.
func New(pol *policy.Policy, store DialogStore, m *metrics.ServerMetrics) (*Backend, error) {
	pools, err := pool.BuildRuntimes(pol.PoolSpecs())
	if err != nil {
		return nil, fmt.Errorf("build pool runtimes: %w", err)
	}

	poolRules, err := match.NewEngine(pol.PoolMatchRules)
	if err != nil {
		return nil, fmt.Errorf("compile pool_match_rules: %w", err)
	}
	authRules, err := match.NewEngine(pol.ReplyMatchRules.Auth)
	if err != nil {
		return nil, fmt.Errorf("compile reply_match_rules.auth: %w", err)
	}
	acctRules, err := match.NewEngine(pol.ReplyMatchRules.Acct)
	if err != nil {
		return nil, fmt.Errorf("compile reply_match_rules.acct: %w", err)
	}

	return &Backend{
		pol:       pol,
		pools:     pools,
		poolRules: poolRules,
		authRules: authRules,
		acctRules: acctRules,
		store:     store,
		metrics:   m,
	}, nil
}

// Pools exposes the pool runtimes for observability.
func (b *Backend) Pools() map[string]*pool.Runtime {
	return b.pools
}

// HandleRequest dispatches on the request code and returns the reply
// decision. Dialog persistence is best-effort: a store failure is logged
// and leaves the token empty, but never blocks the reply.
func (b *Backend) HandleRequest(ctx context.Context, req packet.Request, host string, port int) Result {
	var (
		code  int
		attrs *packet.Attributes
	)

	switch req.Code() {
	case packet.CodeAccessRequest:
		code, attrs = b.handleAuth(ctx, req)
	case packet.CodeAccountingRequest:
		code, attrs = b.handleAcct(ctx, req)
	default:
		logger.DebugCtx(ctx, "ignoring unsupported packet code")
	}

	result := Result{ReplyCode: code, ReplyAttributes: attrs}

	if b.store != nil {
		var replyView packet.Request
		if code != 0 {
			replyView = packet.NewView(code, req.ID(), attrs)
		}
		token, err := b.store.StoreDialog(ctx, req, replyView, host, port)
		b.metrics.ObserveStoreWrite(err)
		if err != nil {
			logger.ErrorCtx(ctx, "dialog persistence failed", logger.KeyError, err.Error())
		} else {
			result.DialogToken = token
		}
	}

	return result
}

func (b *Backend) handleAuth(ctx context.Context, req packet.Request) (int, *packet.Attributes) {
	poolName := b.poolRules.Select(req, defaultTarget)
	pl := b.pools[poolName]

	replyName := b.authRules.Select(req, defaultTarget)
	def := b.pol.ReplyDefinitions.Auth[replyName]
	if def == nil {
		logger.DebugCtx(ctx, "no auth reply template", logger.KeyReply, replyName)
		return 0, nil
	}

	logger.DebugCtx(ctx, "auth decision",
		logger.KeyPool, poolName,
		logger.KeyReply, replyName)

	builder := &reply.Builder{Pool: pl}
	attrs, errMsg := builder.Build(req, def.Attributes)
	if errMsg != "" {
		logger.InfoCtx(ctx, "rejecting access request", logger.KeyError, errMsg)
		return packet.CodeAccessReject, attrs
	}

	return def.Code, attrs
}

// handleAcct always copies the template literally; directives are not
// supported on the accounting path.
func (b *Backend) handleAcct(ctx context.Context, req packet.Request) (int, *packet.Attributes) {
	replyName := b.acctRules.Select(req, defaultTarget)
	def := b.pol.ReplyDefinitions.Acct[replyName]
	if def == nil {
		logger.DebugCtx(ctx, "no acct reply template", logger.KeyReply, replyName)
		return 0, nil
	}

	attrs := packet.NewAttributes()
	if def.Attributes != nil {
		for pair := def.Attributes.Oldest(); pair != nil; pair = pair.Next() {
			attrs.Set(pair.Key, pair.Value)
		}
	}
	return def.Code, attrs
}
