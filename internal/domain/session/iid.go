package session

import (
	"fmt"

	"github.com/google/uuid"
)

// IID is an instance's identity key within a SessionModel: the primary
// key value when the instance is persistent, or a stable locally-unique
// token while it is not. IID wraps `any` rather than being a type alias
// so that a primary key of, say, int64(0) is never confused with "no
// identity" — a nil IID.Value means "no identity assigned yet" only
// when Valid is false.
type IID struct {
	Value any
	Valid bool
}

// NilIID is the zero value: no identity assigned.
var NilIID = IID{}

// NewIID boxes a known value (typically a coerced primary key) as an IID.
func NewIID(v any) IID {
	return IID{Value: v, Valid: true}
}

// NewLocalIID mints a stable locally-unique token for an instance that
// is not yet persistent, so it can still be tracked inside a
// SessionModel's buckets before the backend assigns it a real key.
func NewLocalIID() IID {
	return IID{Value: "local:" + uuid.New().String(), Valid: true}
}

// Equal reports whether two IIDs refer to the same identity.
func (i IID) Equal(other IID) bool {
	if i.Valid != other.Valid {
		return false
	}
	if !i.Valid {
		return true
	}
	return i.Value == other.Value
}

func (i IID) String() string {
	if !i.Valid {
		return "<nil>"
	}
	if s, ok := i.Value.(string); ok {
		return s
	}
	return fmt.Sprint(i.Value)
}
