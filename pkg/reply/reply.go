// Package reply materializes reply templates into concrete attributes.
//
// Template values are either literals or directives. A directive is a string
// starting with "-> " and is evaluated against the incoming request and the
// selected address pool:
//
//	-> fromUuid
//	-> fromPool
//	-> fromRequest.<Attr>
//	-> fromRequest.<Attr>.lower()
//	-> fromRequest.<Attr>.upper()
//	-> fromRequest.<Attr>.split('<sep>')[<idx>]
//
// The transform suffix is checked against a fixed grammar and never
// evaluated as code; anything outside it fails with a clean error.
package reply

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/marmos91/radiusd/pkg/packet"
	"github.com/marmos91/radiusd/pkg/pool"
)

const directivePrefix = "-> "

// PoolExhaustedMessage is the canonical message placed in Reply-Message when
// a fromPool directive finds nothing left to allocate.
const PoolExhaustedMessage = "IP Address in pool is exhausted"

// errPoolExhausted is the internal marker distinguishing exhaustion from
// other directive failures.
const errPoolExhausted = "pool_exhausted"

var (
	fromRequestRe = regexp.MustCompile(`^fromRequest\.([A-Za-z0-9\-_]+)(.*)$`)
	splitIndexRe  = regexp.MustCompile(`^\.split\((['"])(.*?)(['"])\)\[(-?\d+)\]$`)
	lowerRe       = regexp.MustCompile(`^\.lower\(\)$`)
	upperRe       = regexp.MustCompile(`^\.upper\(\)$`)
)

// Builder evaluates reply templates against a request. Pool may be nil when
// no pool matched the request; only fromPool directives care.
type Builder struct {
	Pool *pool.Runtime
}

// Build materializes template attributes in their declared order.
//
// On the first directive failure it stops and returns a map holding a single
// Reply-Message attribute with the failure message, plus the message itself.
// errMsg is "" on success.
func (b *Builder) Build(req packet.Request, template *packet.Attributes) (*packet.Attributes, string) {
	result := packet.NewAttributes()

	if template == nil {
		return result, ""
	}

	for pair := template.Oldest(); pair != nil; pair = pair.Next() {
		value, errMsg := b.resolve(req, pair.Key, pair.Value)
		if errMsg != "" {
			if errMsg == errPoolExhausted {
				errMsg = PoolExhaustedMessage
			}
			failed := packet.NewAttributes()
			failed.Set("Reply-Message", errMsg)
			return failed, errMsg
		}
		result.Set(pair.Key, value)
	}

	return result, ""
}

func (b *Builder) resolve(req packet.Request, attrName string, raw any) (any, string) {
	s, isString := raw.(string)
	if !isString || !strings.HasPrefix(s, directivePrefix) {
		return raw, ""
	}
	directive := strings.TrimSpace(s[len(directivePrefix):])
	return b.applyDirective(req, attrName, directive)
}

func (b *Builder) applyDirective(req packet.Request, attrName, directive string) (any, string) {
	switch {
	case directive == "fromUuid":
		return uuid.NewString(), ""
	case directive == "fromPool":
		return b.fromPool(attrName)
	case strings.HasPrefix(directive, "fromRequest"):
		return fromRequest(req, directive)
	default:
		return nil, fmt.Sprintf("unknown directive '%s'", directive)
	}
}

// fromPool dispatches on the attribute name being filled: the name decides
// which of the three sequences the value comes from.
func (b *Builder) fromPool(attrName string) (any, string) {
	if b.Pool == nil {
		return nil, "pool missing"
	}

	switch attrName {
	case "Framed-IP-Address":
		if v, ok := b.Pool.AllocateIPv4(); ok {
			return v, ""
		}
		return nil, errPoolExhausted
	case "Framed-IPv6-Prefix":
		if v, ok := b.Pool.AllocateIPv6(); ok {
			return v, ""
		}
		return nil, errPoolExhausted
	case "Delegated-IPv6-Prefix":
		if v, ok := b.Pool.AllocateIPv6Delegated(); ok {
			return v, ""
		}
		return nil, errPoolExhausted
	default:
		return nil, fmt.Sprintf("fromPool not supported for %s", attrName)
	}
}

func fromRequest(req packet.Request, directive string) (any, string) {
	m := fromRequestRe.FindStringSubmatch(directive)
	if m == nil {
		return nil, fmt.Sprintf("invalid fromRequest directive '%s'", directive)
	}
	attr, suffix := m[1], m[2]

	value, ok := packet.FirstString(req, attr)
	if !ok {
		return nil, fmt.Sprintf("missing avp %s in incoming request", attr)
	}

	transformed, errMsg := applySafeTransform(value, suffix)
	if errMsg != "" {
		return nil, errMsg
	}
	return transformed, ""
}

// applySafeTransform applies the fixed transform grammar to value.
func applySafeTransform(value, suffix string) (string, string) {
	suffix = strings.TrimSpace(suffix)
	if suffix == "" {
		return value, ""
	}

	if lowerRe.MatchString(suffix) {
		return strings.ToLower(value), ""
	}

	if upperRe.MatchString(suffix) {
		return strings.ToUpper(value), ""
	}

	if m := splitIndexRe.FindStringSubmatch(suffix); m != nil && m[1] == m[3] {
		sep := m[2]
		idx, err := strconv.Atoi(m[4])
		if err != nil {
			return "", fmt.Sprintf("unsupported transform '%s' (eval is disabled)", suffix)
		}
		parts := strings.Split(value, sep)
		if idx < 0 {
			idx += len(parts)
		}
		if idx < 0 || idx >= len(parts) {
			return "", fmt.Sprintf("split index out of range for value '%s'", value)
		}
		return parts[idx], ""
	}

	return "", fmt.Sprintf("unsupported transform '%s' (eval is disabled)", suffix)
}
