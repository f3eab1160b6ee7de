package pageindex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrefixOrdered_NormalizePadsAndValidates(t *testing.T) {
	ix, err := NewPrefixOrdered(4, 2)
	require.NoError(t, err)

	key, err := ix.Normalize("12")
	require.NoError(t, err)
	require.Equal(t, "0012", key)

	key, err = ix.Normalize("0012")
	require.NoError(t, err)
	require.Equal(t, "0012", key)

	_, err = ix.Normalize("12345")
	require.Error(t, err)
	_, err = ix.Normalize("")
	require.Error(t, err)
}

func TestPrefixOrdered_PageRouting(t *testing.T) {
	ix, err := NewPrefixOrdered(4, 2)
	require.NoError(t, err)

	require.Equal(t, "00", ix.PageOf("0012"))
	require.Equal(t, "00", ix.PageOf("0099"))
	require.Equal(t, "01", ix.PageOf("0100"))

	lo, hi := ix.PageRange("00")
	require.Equal(t, "0000", lo)
	require.Equal(t, "00~~", hi)

	// The range brackets every key the page routes.
	require.True(t, lo <= "0012" && "0012" <= hi)
	require.False(t, lo <= "0100" && "0100" <= hi)
}

func TestPrefixOrdered_RejectsBadWidths(t *testing.T) {
	_, err := NewPrefixOrdered(0, 0)
	require.Error(t, err)
	_, err = NewPrefixOrdered(4, 4)
	require.Error(t, err)
}

func TestCompositeFixedWidth_EncodeDecodeRoundTrip(t *testing.T) {
	ix, err := NewCompositeFixedWidth([]Column{
		{Name: "custName", Width: 16},
		{Name: "resvType", Width: 8},
		{Name: "resvKey", Width: 8},
	}, 1)
	require.NoError(t, err)

	key, err := ix.EncodeKey("alice", "FLIGHT", "0001")
	require.NoError(t, err)
	require.Len(t, key, 32)

	parts, err := ix.DecodeKey(key)
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "FLIGHT", "0001"}, parts)
}

func TestCompositeFixedWidth_NormalizeAcceptsJoinedAndEncoded(t *testing.T) {
	ix, err := NewCompositeFixedWidth([]Column{
		{Name: "custName", Width: 16},
		{Name: "resvType", Width: 8},
		{Name: "resvKey", Width: 8},
	}, 1)
	require.NoError(t, err)

	fromParts, err := ix.Normalize("alice|FLIGHT|0001")
	require.NoError(t, err)

	again, err := ix.Normalize(fromParts)
	require.NoError(t, err)
	require.Equal(t, fromParts, again)

	_, err = ix.Normalize("too-short")
	require.Error(t, err)
}

func TestCompositeFixedWidth_Injective(t *testing.T) {
	ix, err := NewCompositeFixedWidth([]Column{
		{Name: "a", Width: 4},
		{Name: "b", Width: 4},
	}, 1)
	require.NoError(t, err)

	k1, err := ix.EncodeKey("ab", "c")
	require.NoError(t, err)
	k2, err := ix.EncodeKey("a", "bc")
	require.NoError(t, err)
	require.NotEqual(t, k1, k2)
}

func TestCompositeFixedWidth_PageRoutingAndPrefixValues(t *testing.T) {
	ix, err := NewCompositeFixedWidth([]Column{
		{Name: "custName", Width: 8},
		{Name: "resvType", Width: 8},
	}, 1)
	require.NoError(t, err)

	key, err := ix.EncodeKey("alice", "HOTEL")
	require.NoError(t, err)

	pageID := ix.PageOf(key)
	require.Len(t, pageID, 8)
	require.Equal(t, []string{"alice"}, ix.PrefixValues(pageID))

	lo, hi := ix.PageRange(pageID)
	require.True(t, lo <= key && key <= hi)
}

func TestCompositeFixedWidth_RejectsOversizedValues(t *testing.T) {
	ix, err := NewCompositeFixedWidth([]Column{
		{Name: "a", Width: 2},
		{Name: "b", Width: 2},
	}, 1)
	require.NoError(t, err)

	_, err = ix.EncodeKey("abc", "d")
	require.Error(t, err)
	_, err = ix.EncodeKey("a|b", "d")
	require.Error(t, err)
	_, err = ix.EncodeKey("", "d")
	require.Error(t, err)
}

func TestLinearBucket_Routing(t *testing.T) {
	ix, err := NewLinearBucket(10, 4)
	require.NoError(t, err)

	key, err := ix.Normalize("7")
	require.NoError(t, err)
	require.Equal(t, "0007", key)
	require.Equal(t, "0", ix.PageOf(key))

	key, err = ix.Normalize("0042")
	require.NoError(t, err)
	require.Equal(t, "4", ix.PageOf(key))

	lo, hi := ix.PageRange("4")
	require.Equal(t, "0040", lo)
	require.Equal(t, "0049", hi)

	_, err = ix.Normalize("not-a-number")
	require.Error(t, err)
}
