package embermqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchWildcards(t *testing.T) {
	cases := []struct {
		topic, filter string
		want          bool
	}{
		{"a/b", "a/b", true},
		{"a/b", "a/+", true},
		{"a/b/c", "a/+/c", true},
		{"a/b/c", "a/+", false},
		{"a/b/c", "a/#", true},
		{"a", "a/#", true},
		{"$SYS/broker", "+/broker", false},
		{"$SYS/broker", "#", false},
		{"$SYS/broker", "$SYS/#", true},
		{"a/b", "a/b/c", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Match(c.topic, c.filter), "%s vs %s", c.topic, c.filter)
	}
}

func TestValidTopicFilter(t *testing.T) {
	assert.True(t, ValidTopicFilter("a/+/c"))
	assert.True(t, ValidTopicFilter("a/#"))
	assert.False(t, ValidTopicFilter("a/#/c"))
	assert.False(t, ValidTopicFilter("a/b+"))
}

func TestParseFilterShared(t *testing.T) {
	share, filter, err := ParseFilter("$share/g1/t/+")
	require.NoError(t, err)
	assert.Equal(t, "g1", share)
	assert.Equal(t, "t/+", filter)

	_, _, err = ParseFilter("$share//t")
	assert.Error(t, err)
	_, _, err = ParseFilter("$share/g1/")
	assert.Error(t, err)
	_, _, err = ParseFilter("$share/g+1/t")
	assert.Error(t, err)

	share, filter, err = ParseFilter("plain/topic")
	require.NoError(t, err)
	assert.Empty(t, share)
	assert.Equal(t, "plain/topic", filter)
}

func TestTopicsIndexInsertReplaceDelete(t *testing.T) {
	idx := NewTopicsIndex()
	replaced := idx.Insert(Subscription{ClientID: "c1", Filter: "a/b", Qos: 1})
	assert.False(t, replaced)

	replaced = idx.Insert(Subscription{ClientID: "c1", Filter: "a/b", Qos: 2})
	assert.True(t, replaced)
	assert.Len(t, idx.Of("c1"), 1)
	assert.EqualValues(t, 2, idx.Of("c1")[0].Qos)

	ok := idx.Delete("c1", "a/b")
	assert.True(t, ok)
	ok = idx.Delete("c1", "a/b")
	assert.False(t, ok)
}

func TestTopicsIndexMatching(t *testing.T) {
	idx := NewTopicsIndex()
	idx.Insert(Subscription{ClientID: "c1", Filter: "t/+"})
	idx.Insert(Subscription{ClientID: "c2", Filter: "t/x"})
	idx.Insert(Subscription{ClientID: "c3", Filter: "other"})

	matches := idx.Matching("t/x")
	assert.Len(t, matches, 2)
}

func TestTopicsIndexDeleteClient(t *testing.T) {
	idx := NewTopicsIndex()
	idx.Insert(Subscription{ClientID: "c1", Filter: "a/b"})
	idx.Insert(Subscription{ClientID: "c1", Filter: "c/d"})
	idx.Insert(Subscription{ClientID: "c2", Filter: "a/b"})

	idx.DeleteClient("c1")
	assert.Empty(t, idx.Of("c1"))
	assert.Len(t, idx.Of("c2"), 1)
}

func TestTopicsIndexSharedSubscriptionDistinctKey(t *testing.T) {
	idx := NewTopicsIndex()
	idx.Insert(Subscription{ClientID: "c1", Filter: "t/x", ShareName: "g1"})
	idx.Insert(Subscription{ClientID: "c1", Filter: "t/x"})
	assert.Len(t, idx.Of("c1"), 2)
}
