package pageindex

import (
	"strings"

	"github.com/JoDio-zd/DistributeDataBase/core/errcode"
)

// Column declares one component of a composite key and the fixed width it is
// padded to inside the encoded key.
type Column struct {
	Name  string `yaml:"name"`
	Width int    `yaml:"width"`
}

// CompositeFixedWidth encodes multi-column keys as a fixed-width string:
// each column is right-padded with spaces to its declared width and the
// padded columns are concatenated. The encoding is injective because widths
// are fixed and column values never end in a space. The page id is the
// encoded prefix over the first prefixCols columns.
//
// Callers may supply keys either already encoded or as raw column values
// joined with '|' (e.g. "alice|FLIGHT|0001"); Normalize accepts both.
type CompositeFixedWidth struct {
	cols       []Column
	prefixCols int
	totalWidth int
}

const compositeSep = "|"

// NewCompositeFixedWidth builds a composite index over cols, routing pages by
// the first prefixCols columns.
func NewCompositeFixedWidth(cols []Column, prefixCols int) (*CompositeFixedWidth, error) {
	if len(cols) < 2 {
		return nil, errcode.Newf(errcode.InvalidArgument, "composite index needs at least 2 columns, got %d", len(cols))
	}
	if prefixCols < 1 || prefixCols >= len(cols) {
		return nil, errcode.Newf(errcode.InvalidArgument, "composite index: prefixCols=%d of %d columns", prefixCols, len(cols))
	}
	total := 0
	for _, c := range cols {
		if c.Width <= 0 || c.Name == "" {
			return nil, errcode.Newf(errcode.InvalidArgument, "composite index: bad column %q width=%d", c.Name, c.Width)
		}
		total += c.Width
	}
	return &CompositeFixedWidth{cols: cols, prefixCols: prefixCols, totalWidth: total}, nil
}

// Columns returns the declared column layout, in key order.
func (ix *CompositeFixedWidth) Columns() []Column {
	out := make([]Column, len(ix.cols))
	copy(out, ix.cols)
	return out
}

// EncodeKey pads and concatenates raw column values into the internal key.
func (ix *CompositeFixedWidth) EncodeKey(values ...string) (string, error) {
	if len(values) != len(ix.cols) {
		return "", errcode.Newf(errcode.InvalidArgument,
			"composite key needs %d values, got %d", len(ix.cols), len(values))
	}
	var b strings.Builder
	b.Grow(ix.totalWidth)
	for i, v := range values {
		c := ix.cols[i]
		if v == "" || len(v) > c.Width {
			return "", errcode.Newf(errcode.InvalidArgument,
				"composite column %s: value %q exceeds width %d or is empty", c.Name, v, c.Width)
		}
		if strings.Contains(v, compositeSep) || strings.HasSuffix(v, " ") {
			return "", errcode.Newf(errcode.InvalidArgument,
				"composite column %s: value %q contains reserved characters", c.Name, v)
		}
		b.WriteString(v)
		b.WriteString(strings.Repeat(" ", c.Width-len(v)))
	}
	return b.String(), nil
}

// DecodeKey splits an encoded key back into its raw column values.
func (ix *CompositeFixedWidth) DecodeKey(key string) ([]string, error) {
	if len(key) != ix.totalWidth {
		return nil, errcode.New(errcode.InvalidArgument, key)
	}
	out := make([]string, 0, len(ix.cols))
	off := 0
	for _, c := range ix.cols {
		out = append(out, strings.TrimRight(key[off:off+c.Width], " "))
		off += c.Width
	}
	return out, nil
}

func (ix *CompositeFixedWidth) Normalize(key string) (string, error) {
	if strings.Contains(key, compositeSep) {
		return ix.EncodeKey(strings.Split(key, compositeSep)...)
	}
	if len(key) != ix.totalWidth {
		return "", errcode.New(errcode.InvalidArgument, key)
	}
	return key, nil
}

func (ix *CompositeFixedWidth) PageOf(key string) string {
	return key[:ix.prefixWidth()]
}

// PageRange bounds the encoded key space of a page. Padding is ' ' (0x20),
// the smallest printable byte, so pageID plus spaces is the low fence.
func (ix *CompositeFixedWidth) PageRange(pageID string) (string, string) {
	rest := ix.totalWidth - ix.prefixWidth()
	return pageID + strings.Repeat(" ", rest), pageID + strings.Repeat(maxSuffixByte, rest)
}

// PrefixValues decodes a page id into the raw values of its routing columns.
// The SQL page I/O uses these for equality predicates on the key columns.
func (ix *CompositeFixedWidth) PrefixValues(pageID string) []string {
	out := make([]string, 0, ix.prefixCols)
	off := 0
	for i := 0; i < ix.prefixCols; i++ {
		w := ix.cols[i].Width
		out = append(out, strings.TrimRight(pageID[off:off+w], " "))
		off += w
	}
	return out
}

func (ix *CompositeFixedWidth) prefixWidth() int {
	w := 0
	for i := 0; i < ix.prefixCols; i++ {
		w += ix.cols[i].Width
	}
	return w
}
