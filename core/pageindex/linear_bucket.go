package pageindex

import (
	"strconv"

	"github.com/JoDio-zd/DistributeDataBase/core/errcode"
)

// LinearBucket groups integer keys into fixed-size buckets: key k lives on
// page k/pageSize. Useful for dense numeric key spaces.
type LinearBucket struct {
	pageSize int
	keyWidth int
}

// NewLinearBucket builds a bucket index holding pageSize consecutive keys per
// page. Keys are rendered at keyWidth digits so lexicographic and numeric
// order agree in the backing store.
func NewLinearBucket(pageSize, keyWidth int) (*LinearBucket, error) {
	if pageSize <= 0 || keyWidth <= 0 {
		return nil, errcode.Newf(errcode.InvalidArgument,
			"linear index: pageSize=%d keyWidth=%d", pageSize, keyWidth)
	}
	return &LinearBucket{pageSize: pageSize, keyWidth: keyWidth}, nil
}

func (ix *LinearBucket) Normalize(key string) (string, error) {
	n, err := strconv.ParseInt(key, 10, 64)
	if err != nil || n < 0 {
		return "", errcode.New(errcode.InvalidArgument, key)
	}
	s := strconv.FormatInt(n, 10)
	if len(s) > ix.keyWidth {
		return "", errcode.New(errcode.InvalidArgument, key)
	}
	return pad(s, ix.keyWidth), nil
}

func (ix *LinearBucket) PageOf(key string) string {
	n, _ := strconv.ParseInt(key, 10, 64)
	return strconv.FormatInt(n/int64(ix.pageSize), 10)
}

func (ix *LinearBucket) PageRange(pageID string) (string, string) {
	bucket, _ := strconv.ParseInt(pageID, 10, 64)
	lo := bucket * int64(ix.pageSize)
	hi := lo + int64(ix.pageSize) - 1
	return pad(strconv.FormatInt(lo, 10), ix.keyWidth), pad(strconv.FormatInt(hi, 10), ix.keyWidth)
}

func pad(s string, width int) string {
	for len(s) < width {
		s = "0" + s
	}
	return s
}
