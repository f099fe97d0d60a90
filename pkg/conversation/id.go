package conversation

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ID identifies conversations, messages and branches. The zero value is the
// null reference (no parent, no parent branch).
type ID uuid.UUID

var NullID = ID(uuid.Nil)

// NewID returns a fresh time-ordered (version 7) identifier. Ids minted by
// one process sort in minting order, which LoadMessageStore relies on to
// break CreatedAt ties.
func NewID() ID {
	return ID(uuid.Must(uuid.NewV7()))
}

// ParseID parses the canonical textual form. An empty string yields NullID.
func ParseID(s string) (ID, error) {
	if s == "" {
		return NullID, nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return NullID, &InvalidOperationError{Op: "parse id", Reason: err.Error()}
	}
	return ID(u), nil
}

// MustParseID is ParseID for literals in tests and fixtures.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID) IsNull() bool {
	return id == NullID
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

func (id ID) MarshalText() ([]byte, error) {
	if id.IsNull() {
		return []byte{}, nil
	}
	return uuid.UUID(id).MarshalText()
}

func (id *ID) UnmarshalText(data []byte) error {
	parsed, err := ParseID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// MarshalJSON encodes NullID as JSON null.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsNull() {
		return []byte("null"), nil
	}
	return json.Marshal(uuid.UUID(id).String())
}

func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = NullID
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return id.UnmarshalText([]byte(s))
}

// IDGenerator mints identifiers. Tests inject deterministic generators.
type IDGenerator func() ID
