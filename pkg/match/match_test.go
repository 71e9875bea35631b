package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/radiusd/pkg/packet"
)

func testRequest(kv ...string) packet.Request {
	attrs := packet.NewAttributes()
	for i := 0; i+1 < len(kv); i += 2 {
		attrs.Set(kv[i], any(kv[i+1]))
	}
	return packet.NewView(packet.CodeAccessRequest, 1, attrs)
}

func TestNewEngine(t *testing.T) {
	t.Run("RejectsGroupWithTwoTargetKeys", func(t *testing.T) {
		_, err := NewEngine([]RuleSpec{
			{"pool1": nil, "pool2": nil},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exactly one target key")
	})

	t.Run("RejectsEmptyGroup", func(t *testing.T) {
		_, err := NewEngine([]RuleSpec{{}})
		require.Error(t, err)
	})

	t.Run("RejectsInvalidRegex", func(t *testing.T) {
		_, err := NewEngine([]RuleSpec{
			{"pool1": {{"User-Name": "("}}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pool1")
	})
}

func TestSelect(t *testing.T) {
	t.Run("FirstMatchingGroupWins", func(t *testing.T) {
		e, err := NewEngine([]RuleSpec{
			{"gold": {{"User-Name": "^vip"}}},
			{"silver": {{"User-Name": "alice"}}},
		})
		require.NoError(t, err)

		assert.Equal(t, "gold", e.Select(testRequest("User-Name", "vip-alice"), "default"))
		assert.Equal(t, "silver", e.Select(testRequest("User-Name", "plain-alice"), "default"))
	})

	t.Run("NoMatchReturnsFallback", func(t *testing.T) {
		e, err := NewEngine([]RuleSpec{
			{"gold": {{"User-Name": "^vip"}}},
		})
		require.NoError(t, err)

		assert.Equal(t, "default", e.Select(testRequest("User-Name", "bob"), "default"))
	})

	t.Run("EmptyPredicateListIsCatchAll", func(t *testing.T) {
		e, err := NewEngine([]RuleSpec{
			{"gold": {{"User-Name": "^vip"}}},
			{"any": {}},
			{"never": {{"User-Name": "bob"}}},
		})
		require.NoError(t, err)

		assert.Equal(t, "any", e.Select(testRequest("User-Name", "bob"), "default"))
	})

	t.Run("PairsWithinPredicateAreAnded", func(t *testing.T) {
		e, err := NewEngine([]RuleSpec{
			{"both": {{"User-Name": "alice", "NAS-Identifier": "nas1"}}},
		})
		require.NoError(t, err)

		assert.Equal(t, "both",
			e.Select(testRequest("User-Name", "alice", "NAS-Identifier", "nas1"), "default"))
		assert.Equal(t, "default",
			e.Select(testRequest("User-Name", "alice", "NAS-Identifier", "nas2"), "default"))
		assert.Equal(t, "default",
			e.Select(testRequest("User-Name", "alice"), "default"))
	})

	t.Run("PredicatesWithinGroupAreOred", func(t *testing.T) {
		e, err := NewEngine([]RuleSpec{
			{"either": {
				{"User-Name": "^alice$"},
				{"User-Name": "^bob$"},
			}},
		})
		require.NoError(t, err)

		assert.Equal(t, "either", e.Select(testRequest("User-Name", "alice"), "default"))
		assert.Equal(t, "either", e.Select(testRequest("User-Name", "bob"), "default"))
		assert.Equal(t, "default", e.Select(testRequest("User-Name", "carol"), "default"))
	})

	t.Run("RegexIsUnanchoredSubstringSearch", func(t *testing.T) {
		e, err := NewEngine([]RuleSpec{
			{"match": {{"User-Name": "lic"}}},
		})
		require.NoError(t, err)

		assert.Equal(t, "match", e.Select(testRequest("User-Name", "alice"), "default"))
	})

	t.Run("MissingAttributeFailsThePair", func(t *testing.T) {
		e, err := NewEngine([]RuleSpec{
			{"match": {{"Calling-Station-Id": ".*"}}},
		})
		require.NoError(t, err)

		assert.Equal(t, "default", e.Select(testRequest("User-Name", "alice"), "default"))
	})

	t.Run("DeterministicAcrossCalls", func(t *testing.T) {
		e, err := NewEngine([]RuleSpec{
			{"a": {{"User-Name": "x"}}},
			{"b": {{"User-Name": "y"}}},
		})
		require.NoError(t, err)

		req := testRequest("User-Name", "xy")
		for i := 0; i < 10; i++ {
			assert.Equal(t, "a", e.Select(req, "default"))
		}
	})
}
