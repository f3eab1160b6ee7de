// Package record defines the immutable record snapshot stored by a resource
// manager: a primary key, a bag of scalar fields, a commit version and a
// tombstone flag.
package record

import (
	"github.com/spf13/cast"
)

// Record is one versioned snapshot of a row. A committed record is never
// mutated in place; transactions work on clones until commit merges them back.
type Record struct {
	Key     string                 `json:"key"`
	Fields  map[string]interface{} `json:"fields"`
	Version int64                  `json:"version"`
	Deleted bool                   `json:"deleted"`
}

// New builds a live record at version 0. The fields map is copied.
func New(key string, fields map[string]interface{}) *Record {
	return &Record{Key: key, Fields: copyFields(fields)}
}

// Tombstone builds a deletion marker for key at the given version.
func Tombstone(key string, version int64) *Record {
	return &Record{Key: key, Version: version, Deleted: true}
}

// Absent models a key that has never been committed: version 0, deleted.
func Absent(key string) *Record {
	return &Record{Key: key, Version: 0, Deleted: true}
}

// Clone returns a deep copy. Field values are scalars (integers and short
// strings), so copying the map is sufficient.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{
		Key:     r.Key,
		Fields:  copyFields(r.Fields),
		Version: r.Version,
		Deleted: r.Deleted,
	}
}

// Merge returns a clone with patch applied on top of the existing fields.
func (r *Record) Merge(patch map[string]interface{}) *Record {
	out := r.Clone()
	if out.Fields == nil {
		out.Fields = make(map[string]interface{}, len(patch))
	}
	for k, v := range patch {
		out.Fields[k] = v
	}
	return out
}

// Int reads a field as int64. JSON decoding turns numbers into float64, so
// every numeric access goes through cast.
func (r *Record) Int(field string) int64 {
	return cast.ToInt64(r.Fields[field])
}

// String reads a field as a string.
func (r *Record) String(field string) string {
	return cast.ToString(r.Fields[field])
}

func copyFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
