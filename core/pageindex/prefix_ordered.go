package pageindex

import (
	"strings"

	"github.com/JoDio-zd/DistributeDataBase/core/errcode"
)

// PrefixOrdered shards a lexicographically ordered, fixed-width key space by
// prefix. With keyWidth=4 and offsetWidth=2, key "0012" lives on page "00"
// together with every key "00??".
type PrefixOrdered struct {
	keyWidth    int
	offsetWidth int
}

// NewPrefixOrdered builds a prefix index. offsetWidth is the number of
// trailing key characters that vary within one page; page size is therefore
// bounded by charset^offsetWidth distinct keys.
func NewPrefixOrdered(keyWidth, offsetWidth int) (*PrefixOrdered, error) {
	if keyWidth <= 0 || offsetWidth < 0 || offsetWidth >= keyWidth {
		return nil, errcode.Newf(errcode.InvalidArgument,
			"prefix index: keyWidth=%d offsetWidth=%d", keyWidth, offsetWidth)
	}
	return &PrefixOrdered{keyWidth: keyWidth, offsetWidth: offsetWidth}, nil
}

// Normalize left-pads short keys with '0' up to the key width. Keys longer
// than the width are rejected: truncation would break injectivity.
func (ix *PrefixOrdered) Normalize(key string) (string, error) {
	if key == "" {
		return "", errcode.Newf(errcode.InvalidArgument, "empty key")
	}
	if len(key) > ix.keyWidth {
		return "", errcode.New(errcode.InvalidArgument, key)
	}
	if len(key) < ix.keyWidth {
		key = strings.Repeat("0", ix.keyWidth-len(key)) + key
	}
	return key, nil
}

func (ix *PrefixOrdered) PageOf(key string) string {
	return key[:ix.keyWidth-ix.offsetWidth]
}

func (ix *PrefixOrdered) PageRange(pageID string) (string, string) {
	lo := pageID + strings.Repeat("0", ix.offsetWidth)
	hi := pageID + strings.Repeat(maxSuffixByte, ix.offsetWidth)
	return lo, hi
}
