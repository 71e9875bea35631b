// Package policy loads and validates the policy file: pools, reply
// definitions, match rules and dialog storage keys.
//
// Parsing is strict. Unknown keys anywhere reject the file, and every
// validation message names the offending path. Reply attributes are kept in
// declaration order; directive evaluation allocates from pools, so order is
// behavior.
package policy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/marmos91/radiusd/pkg/match"
	"github.com/marmos91/radiusd/pkg/packet"
	"github.com/marmos91/radiusd/pkg/pool"
)

// Policy is the root of the policy file.
type Policy struct {
	AddressPools     map[string]AddressPool `yaml:"address_pools" json:"address_pools"`
	ReplyDefinitions ReplyDefinitions       `yaml:"reply_definitions" json:"reply_definitions"`
	PoolMatchRules   []match.RuleSpec       `yaml:"pool_match_rules" json:"pool_match_rules"`
	ReplyMatchRules  ReplyMatchRules        `yaml:"reply_match_rules" json:"reply_match_rules"`
	RedisStorage     RedisStorage           `yaml:"redis_storage" json:"redis_storage"`
}

// AddressPool is a named set of CIDRs.
type AddressPool struct {
	Shuffle       bool     `yaml:"shuffle" json:"shuffle"`
	IPv4          []string `yaml:"ipv4" json:"ipv4"`
	IPv6          []string `yaml:"ipv6" json:"ipv6"`
	IPv6Delegated []string `yaml:"ipv6_delegated" json:"ipv6_delegated"`
}

// ReplyDef is one reply template: the packet code to answer with and the
// ordered attribute map (literals or directives).
type ReplyDef struct {
	Code       int                `yaml:"code" json:"code"`
	Attributes *packet.Attributes `yaml:"attributes" json:"attributes"`
}

// ReplyDefinitions holds the named templates per category.
type ReplyDefinitions struct {
	Auth map[string]*ReplyDef `yaml:"auth" json:"auth"`
	Acct map[string]*ReplyDef `yaml:"acct" json:"acct"`
}

// ReplyMatchRules holds the ordered reply selection rules per category.
type ReplyMatchRules struct {
	Auth []match.RuleSpec `yaml:"auth" json:"auth"`
	Acct []match.RuleSpec `yaml:"acct" json:"acct"`
}

// RedisStorage configures dialog persistence keying.
type RedisStorage struct {
	Prefix string   `yaml:"prefix" json:"prefix"`
	Auth   []string `yaml:"auth" json:"auth"`
	Acct   []string `yaml:"acct" json:"acct"`
	CoA    []string `yaml:"coa" json:"coa"`
	Disc   []string `yaml:"disc" json:"disc"`
}

// Load reads, parses and validates a policy file. The format follows the
// file extension: .yml/.yaml or .json.
func Load(path string) (*Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("policy file not found: %s", path)
		}
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}

	pol, err := Parse(raw, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pol, nil
}

// Parse decodes and validates policy content in the format implied by ext.
func Parse(raw []byte, ext string) (*Policy, error) {
	var pol Policy

	switch strings.ToLower(ext) {
	case ".yml", ".yaml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&pol); err != nil {
			return nil, fmt.Errorf("yaml parse error: %w", err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&pol); err != nil {
			return nil, fmt.Errorf("json parse error: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q, use .yml/.yaml or .json", ext)
	}

	if err := pol.Validate(); err != nil {
		return nil, err
	}
	return &pol, nil
}

var (
	validAuthCodes = map[int]bool{
		packet.CodeAccessAccept:    true,
		packet.CodeAccessReject:    true,
		packet.CodeAccessChallenge: true,
	}
	validAcctCodes = map[int]bool{
		packet.CodeAccountingResponse: true,
	}
)

// Validate checks all structural constraints and reports every violation,
// one line per failing path.
func (p *Policy) Validate() error {
	var problems []string
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(p.AddressPools) == 0 {
		fail("address_pools must contain at least one entry")
	}
	for name, ap := range p.AddressPools {
		for _, cidr := range ap.IPv4 {
			if err := checkNetwork(cidr, false); err != nil {
				fail("address_pools.%s.ipv4: %v", name, err)
			}
		}
		for _, cidr := range ap.IPv6 {
			if err := checkNetwork(cidr, true); err != nil {
				fail("address_pools.%s.ipv6: %v", name, err)
			}
		}
		for _, cidr := range ap.IPv6Delegated {
			if err := checkNetwork(cidr, true); err != nil {
				fail("address_pools.%s.ipv6_delegated: %v", name, err)
			}
		}
	}

	for name, def := range p.ReplyDefinitions.Auth {
		if def == nil {
			fail("reply_definitions.auth.%s: missing definition", name)
			continue
		}
		if !validAuthCodes[def.Code] {
			fail("reply_definitions.auth.%s.code: auth code must be one of {2, 3, 11}, got %d", name, def.Code)
		}
	}
	for name, def := range p.ReplyDefinitions.Acct {
		if def == nil {
			fail("reply_definitions.acct.%s: missing definition", name)
			continue
		}
		if !validAcctCodes[def.Code] {
			fail("reply_definitions.acct.%s.code: acct code must be one of {5}, got %d", name, def.Code)
		}
	}

	if err := checkRules(p.PoolMatchRules); err != nil {
		fail("pool_match_rules: %v", err)
	}
	if len(p.ReplyMatchRules.Auth) == 0 {
		fail("reply_match_rules.auth must contain at least one rule")
	} else if err := checkRules(p.ReplyMatchRules.Auth); err != nil {
		fail("reply_match_rules.auth: %v", err)
	}
	if len(p.ReplyMatchRules.Acct) == 0 {
		fail("reply_match_rules.acct must contain at least one rule")
	} else if err := checkRules(p.ReplyMatchRules.Acct); err != nil {
		fail("reply_match_rules.acct: %v", err)
	}

	if p.RedisStorage.Prefix == "" {
		fail("redis_storage.prefix is required")
	}
	for name, list := range map[string][]string{
		"auth": p.RedisStorage.Auth,
		"acct": p.RedisStorage.Acct,
		"coa":  p.RedisStorage.CoA,
		"disc": p.RedisStorage.Disc,
	} {
		if len(list) == 0 {
			fail("redis_storage.%s must contain at least one attribute", name)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("policy validation failed:\n - " + strings.Join(problems, "\n - "))
}

// checkRules compiles a rule list, surfacing single-target-key violations
// and bad regexes at load time instead of first evaluation.
func checkRules(rules []match.RuleSpec) error {
	_, err := match.NewEngine(rules)
	return err
}

func checkNetwork(cidr string, wantV6 bool) error {
	pfx, err := netip.ParsePrefix(cidr)
	if err != nil {
		return fmt.Errorf("invalid network %q: %v", cidr, err)
	}
	isV6 := pfx.Addr().Is6() && !pfx.Addr().Is4In6()
	if wantV6 != isV6 {
		if wantV6 {
			return fmt.Errorf("invalid network %q: not IPv6", cidr)
		}
		return fmt.Errorf("invalid network %q: not IPv4", cidr)
	}
	return nil
}

// PoolSpecs converts the configured pools to runtime build specs.
func (p *Policy) PoolSpecs() map[string]pool.Spec {
	specs := make(map[string]pool.Spec, len(p.AddressPools))
	for name, ap := range p.AddressPools {
		specs[name] = pool.Spec{
			Shuffle:       ap.Shuffle,
			IPv4:          ap.IPv4,
			IPv6:          ap.IPv6,
			IPv6Delegated: ap.IPv6Delegated,
		}
	}
	return specs
}

// DialogKeys returns the storage keying config in the dialog store's terms.
func (p *Policy) DialogKeys() (prefix string, auth, acct, coa, disc []string) {
	rs := p.RedisStorage
	return rs.Prefix, rs.Auth, rs.Acct, rs.CoA, rs.Disc
}
