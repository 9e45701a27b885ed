package domain

import (
	"database/sql/driver"
	"fmt"
	"strconv"
)

// Version is an upstream entity version that may be absent.
//
// The zero value is unset. Stored versions map to NULL in the database so an
// unpopulated lineage never compares as a real number.
type Version struct {
	value int64
	set   bool
}

// NewVersion returns a populated version
func NewVersion(v int64) Version {
	return Version{value: v, set: true}
}

// IsSet reports whether the version has been populated
func (v Version) IsSet() bool {
	return v.set
}

// Int64 returns the version value and whether it is set
func (v Version) Int64() (int64, bool) {
	return v.value, v.set
}

// AcceptsUpsert reports whether an incoming upsert with the given version may
// replace the stored state
func (v Version) AcceptsUpsert(incoming int64) bool {
	return !v.set || incoming >= v.value
}

// AcceptsDelete reports whether an incoming delete with the given version may
// remove the stored state
func (v Version) AcceptsDelete(incoming int64) bool {
	return !v.set || incoming > v.value
}

func (v Version) String() string {
	if !v.set {
		return "unset"
	}
	return strconv.FormatInt(v.value, 10)
}

// Scan implements sql.Scanner
func (v *Version) Scan(src any) error {
	switch t := src.(type) {
	case nil:
		*v = Version{}
	case int64:
		*v = NewVersion(t)
	case int32:
		*v = NewVersion(int64(t))
	default:
		return fmt.Errorf("cannot scan %T into Version", src)
	}
	return nil
}

// Value implements driver.Valuer
func (v Version) Value() (driver.Value, error) {
	if !v.set {
		return nil, nil
	}
	return v.value, nil
}
