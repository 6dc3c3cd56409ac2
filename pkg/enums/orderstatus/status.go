package orderstatus

import (
	"fmt"

	"github.com/appetiteclub/fulfillment/pkg/enums"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Status is the order lifecycle state. The zero value is not a valid status;
// values only come from Statuses or ByName.
type Status struct {
	name string
}

func (s Status) Code() string   { return s.name }
func (s Status) String() string { return s.name }
func (s Status) Label() string  { return enums.Label(s.name) }
func (s Status) IsZero() bool   { return s.name == "" }

type Enum struct {
	Pending        Status
	Confirmed      Status
	Preparing      Status
	Ready          Status
	OutForDelivery Status
	Delivered      Status
	Cancelled      Status
}

var Statuses = Enum{
	Pending:        Status{name: "PENDING"},
	Confirmed:      Status{name: "CONFIRMED"},
	Preparing:      Status{name: "PREPARING"},
	Ready:          Status{name: "READY"},
	OutForDelivery: Status{name: "OUT_FOR_DELIVERY"},
	Delivered:      Status{name: "DELIVERED"},
	Cancelled:      Status{name: "CANCELLED"},
}

var All = []Status{
	Statuses.Pending,
	Statuses.Confirmed,
	Statuses.Preparing,
	Statuses.Ready,
	Statuses.OutForDelivery,
	Statuses.Delivered,
	Statuses.Cancelled,
}

// ByName is case-insensitive.
func ByName(name string) (Status, bool) {
	code := enums.Normalize(name)
	for _, s := range All {
		if s.name == code {
			return s, true
		}
	}
	return Status{}, false
}

// Final statuses refuse cancellation.
func (s Status) IsFinal() bool {
	return s == Statuses.Delivered || s == Statuses.Cancelled
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.name), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	v, ok := ByName(string(text))
	if !ok {
		return fmt.Errorf("unknown order status %q", text)
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
