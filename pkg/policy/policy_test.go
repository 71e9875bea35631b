package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
address_pools:
  pool1:
    shuffle: false
    ipv4:
      - 10.0.0.0/30
    ipv6:
      - 2001:db8::/62
    ipv6_delegated:
      - 2001:db8:ff00::/54

reply_definitions:
  auth:
    ok:
      code: 2
      attributes:
        Reply-Message: "OK"
        Framed-IP-Address: "-> fromPool"
        Class: "-> fromUuid"
  acct:
    acct_ok:
      code: 5
      attributes: {}

pool_match_rules:
  - pool1:
      - User-Name: "alice"

reply_match_rules:
  auth:
    - ok:
        - User-Name: "alice"
  acct:
    - acct_ok: []

redis_storage:
  prefix: "tE4.radiusServer."
  auth: ["User-Name"]
  acct: ["User-Name", "Acct-Session-Id"]
  coa: ["code", "id"]
  disc: ["code", "id"]
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("ValidYAML", func(t *testing.T) {
		pol, err := Load(writeFile(t, "policy.yml", validYAML))
		require.NoError(t, err)

		require.Contains(t, pol.AddressPools, "pool1")
		assert.Equal(t, []string{"10.0.0.0/30"}, pol.AddressPools["pool1"].IPv4)

		ok := pol.ReplyDefinitions.Auth["ok"]
		require.NotNil(t, ok)
		assert.Equal(t, 2, ok.Code)

		var names []string
		for pair := ok.Attributes.Oldest(); pair != nil; pair = pair.Next() {
			names = append(names, pair.Key)
		}
		assert.Equal(t, []string{"Reply-Message", "Framed-IP-Address", "Class"}, names,
			"attribute declaration order must survive parsing")

		assert.Equal(t, "tE4.radiusServer.", pol.RedisStorage.Prefix)
	})

	t.Run("ValidJSON", func(t *testing.T) {
		content := `{
  "address_pools": {"pool1": {"ipv4": ["10.0.0.0/30"]}},
  "reply_definitions": {
    "auth": {"ok": {"code": 2, "attributes": {"Reply-Message": "OK"}}},
    "acct": {"acct_ok": {"code": 5, "attributes": {}}}
  },
  "pool_match_rules": [{"pool1": []}],
  "reply_match_rules": {"auth": [{"ok": []}], "acct": [{"acct_ok": []}]},
  "redis_storage": {"prefix": "p.", "auth": ["User-Name"], "acct": ["User-Name"], "coa": ["code"], "disc": ["code"]}
}`
		pol, err := Load(writeFile(t, "policy.json", content))
		require.NoError(t, err)
		assert.Equal(t, "p.", pol.RedisStorage.Prefix)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("UnsupportedExtension", func(t *testing.T) {
		_, err := Load(writeFile(t, "policy.toml", "x = 1"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported config format")
	})

	t.Run("UnknownTopLevelKeyRejected", func(t *testing.T) {
		_, err := Load(writeFile(t, "policy.yml", validYAML+"\nbogus_key: true\n"))
		require.Error(t, err)
	})

	t.Run("UnknownJSONKeyRejected", func(t *testing.T) {
		content := `{"address_pools": {}, "bogus": 1}`
		_, err := Load(writeFile(t, "policy.json", content))
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *Policy {
		t.Helper()
		pol, err := Load(writeFile(t, "policy.yml", validYAML))
		require.NoError(t, err)
		return pol
	}

	t.Run("EmptyAddressPools", func(t *testing.T) {
		pol := base(t)
		pol.AddressPools = nil
		err := pol.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "address_pools must contain at least one entry")
	})

	t.Run("InvalidCIDRNamesThePath", func(t *testing.T) {
		pol := base(t)
		ap := pol.AddressPools["pool1"]
		ap.IPv4 = []string{"banana"}
		pol.AddressPools["pool1"] = ap

		err := pol.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "address_pools.pool1.ipv4")
		assert.Contains(t, err.Error(), "banana")
	})

	t.Run("IPv4InIPv6List", func(t *testing.T) {
		pol := base(t)
		ap := pol.AddressPools["pool1"]
		ap.IPv6 = []string{"10.0.0.0/24"}
		pol.AddressPools["pool1"] = ap

		err := pol.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not IPv6")
	})

	t.Run("InvalidAuthCode", func(t *testing.T) {
		pol := base(t)
		pol.ReplyDefinitions.Auth["ok"].Code = 5

		err := pol.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reply_definitions.auth.ok.code")
		assert.Contains(t, err.Error(), "{2, 3, 11}")
	})

	t.Run("InvalidAcctCode", func(t *testing.T) {
		pol := base(t)
		pol.ReplyDefinitions.Acct["acct_ok"].Code = 2

		err := pol.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reply_definitions.acct.acct_ok.code")
	})

	t.Run("RuleGroupWithTwoTargets", func(t *testing.T) {
		pol := base(t)
		pol.PoolMatchRules = append(pol.PoolMatchRules, map[string][]map[string]string{
			"a": nil,
			"b": nil,
		})

		err := pol.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pool_match_rules")
		assert.Contains(t, err.Error(), "exactly one target key")
	})

	t.Run("EmptyReplyMatchRules", func(t *testing.T) {
		pol := base(t)
		pol.ReplyMatchRules.Acct = nil

		err := pol.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reply_match_rules.acct must contain at least one rule")
	})

	t.Run("EmptyRedisStorageList", func(t *testing.T) {
		pol := base(t)
		pol.RedisStorage.CoA = nil

		err := pol.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis_storage.coa must contain at least one attribute")
	})

	t.Run("MissingPrefix", func(t *testing.T) {
		pol := base(t)
		pol.RedisStorage.Prefix = ""

		err := pol.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis_storage.prefix is required")
	})

	t.Run("AllViolationsReportedTogether", func(t *testing.T) {
		pol := base(t)
		pol.AddressPools = nil
		pol.RedisStorage.Prefix = ""

		err := pol.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "address_pools")
		assert.Contains(t, err.Error(), "redis_storage.prefix")
	})
}

func TestPoolSpecs(t *testing.T) {
	pol, err := Load(writeFile(t, "policy.yml", validYAML))
	require.NoError(t, err)

	specs := pol.PoolSpecs()
	require.Contains(t, specs, "pool1")
	assert.Equal(t, []string{"10.0.0.0/30"}, specs["pool1"].IPv4)
	assert.Equal(t, []string{"2001:db8::/62"}, specs["pool1"].IPv6)
	assert.Equal(t, []string{"2001:db8:ff00::/54"}, specs["pool1"].IPv6Delegated)
}
