package itemstatus

import (
	"fmt"

	"github.com/appetiteclub/fulfillment/pkg/enums"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Status of a single preparable line item. Kitchen staff may set any value;
// readiness aggregation compares against a target, usually READY.
type Status struct {
	name string
}

func (s Status) Code() string   { return s.name }
func (s Status) String() string { return s.name }
func (s Status) Label() string  { return enums.Label(s.name) }
func (s Status) IsZero() bool   { return s.name == "" }

type Enum struct {
	Pending   Status
	Preparing Status
	Ready     Status
	Served    Status
}

var Statuses = Enum{
	Pending:   Status{name: "PENDING"},
	Preparing: Status{name: "PREPARING"},
	Ready:     Status{name: "READY"},
	Served:    Status{name: "SERVED"},
}

var All = []Status{
	Statuses.Pending,
	Statuses.Preparing,
	Statuses.Ready,
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

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.name), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	v, ok := ByName(string(text))
	if !ok {
		return fmt.Errorf("unknown item status %q", text)
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
