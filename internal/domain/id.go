package domain

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID is the single opaque identifier type used for every entity and principal.
//
// Identifiers are normalized exactly once, at the system boundary (HTTP params,
// JWT claims, gateway payloads), via ParseID. Internal code compares IDs with ==.
type ID string

// NewID returns a fresh random identifier.
func NewID() ID { return ID(uuid.NewString()) }

// ParseID normalizes a raw identifier. UUIDs are canonicalized (lowercase,
// hyphenated); anything else is rejected.
func ParseID(raw string) (ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty id", ErrValidation)
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: malformed id %q", ErrValidation, raw)
	}
	return ID(u.String()), nil
}

// MustParseID is ParseID for constants and tests.
func MustParseID(raw string) ID {
	id, err := ParseID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID) String() string { return string(id) }

func (id ID) IsZero() bool { return id == "" }

// Value implements driver.Valuer so IDs can be passed straight to database/sql.
func (id ID) Value() (driver.Value, error) {
	if id == "" {
		return nil, nil
	}
	return string(id), nil
}

// Scan implements sql.Scanner.
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*id = ""
	case string:
		*id = ID(strings.ToLower(v))
	case []byte:
		*id = ID(strings.ToLower(string(v)))
	case [16]byte:
		*id = ID(uuid.UUID(v).String())
	default:
		return fmt.Errorf("domain: cannot scan %T into ID", src)
	}
	return nil
}
