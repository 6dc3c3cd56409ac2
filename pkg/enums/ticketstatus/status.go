package ticketstatus

import (
	"fmt"

	"github.com/appetiteclub/fulfillment/pkg/enums"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Status is the aggregate state of a kitchen ticket. It only moves forward:
// PENDING -> READY_TO_SERVE -> SERVED.
type Status struct {
	name string
}

func (s Status) Code() string   { return s.name }
func (s Status) String() string { return s.name }
func (s Status) Label() string  { return enums.Label(s.name) }
func (s Status) IsZero() bool   { return s.name == "" }

type Enum struct {
	Pending      Status
	ReadyToServe Status
	Served       Status
}

var Statuses = Enum{
	Pending:      Status{name: "PENDING"},
	ReadyToServe: Status{name: "READY_TO_SERVE"},
	Served:       Status{name: "SERVED"},
}

var All = []Status{
	Statuses.Pending,
	Statuses.ReadyToServe,
	Statuses.Served,
}

func ByName(name string) (Status, bool) {
	code := enums.Normalize(name)
	for _, s := range All {
		if s.name == code {
			return s, true
		}
	}
	return Status{}, false
}

// CanBecome reports whether to is the single allowed successor of s.
func (s Status) CanBecome(to Status) bool {
	switch s {
	case Statuses.Pending:
		return to == Statuses.ReadyToServe
	case Statuses.ReadyToServe:
		return to == Statuses.Served
	default:
		return false
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.name), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	v, ok := ByName(string(text))
	if !ok {
		return fmt.Errorf("unknown ticket status %q", text)
	}
	*s = v
	return nil
}

func (s Status) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return enums.MarshalBSONString(s.name)
}

func (s *Status) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	code, err := enums.UnmarshalBSONString(t, data)
	if err != nil {
		return err
	}
	return s.UnmarshalText([]byte(code))
}
