package types

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ID identifies workflows, executions and schedule bindings. New IDs are
// version 7 UUIDs, so IDs minted by one process sort by creation time.
type ID string

// ErrInvalidID is wrapped by every ID parse failure.
var ErrInvalidID = errors.New("invalid id")

// NewID returns a fresh time-ordered ID.
func NewID() ID {
	u, err := uuid.NewV7()
	if err != nil {
		u = uuid.New()
	}
	return ID(u.String())
}

// ParseID parses s as a UUID and returns its canonical lower-case form.
func ParseID(s string) (ID, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidID)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidID, s, err)
	}
	return ID(u.String()), nil
}

// Validate reports whether id is a well-formed UUID.
func (id ID) Validate() error {
	_, err := ParseID(string(id))
	return err
}

func (id ID) String() string {
	return string(id)
}

// Short returns the first eight characters for compact CLI output and
// default workflow names.
func (id ID) Short() string {
	if len(id) <= 8 {
		return string(id)
	}
	return string(id[:8])
}

func (id ID) IsZero() bool {
	return id == ""
}

// MarshalJSON encodes the zero ID as null.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON accepts null, "" or a UUID string.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	if s == nil || *s == "" {
		*id = ""
		return nil
	}
	parsed, err := ParseID(*s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
