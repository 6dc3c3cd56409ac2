package paymentstatus

import (
	"fmt"

	"github.com/appetiteclub/fulfillment/pkg/enums"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Status is the settlement state of an order's payment.
type Status struct {
	name string
}

func (s Status) Code() string   { return s.name }
func (s Status) String() string { return s.name }
func (s Status) Label() string  { return enums.Label(s.name) }
func (s Status) IsZero() bool   { return s.name == "" }

type Enum struct {
	Pending    Status
	Processing Status
	Completed  Status
	Failed     Status
	Cancelled  Status
	Refunded   Status
}

var Statuses = Enum{
	Pending:    Status{name: "PENDING"},
	Processing: Status{name: "PROCESSING"},
	Completed:  Status{name: "COMPLETED"},
	Failed:     Status{name: "FAILED"},
	Cancelled:  Status{name: "CANCELLED"},
	Refunded:   Status{name: "REFUNDED"},
}

var All = []Status{
	Statuses.Pending,
	Statuses.Processing,
	Statuses.Completed,
	Statuses.Failed,
	Statuses.Cancelled,
	Statuses.Refunded,
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

// Unsettled payments have not moved money yet.
func (s Status) IsUnsettled() bool {
	return s == Statuses.Pending || s == Statuses.Processing
}

// IsRejection reports the statuses that cancel the order.
func (s Status) IsRejection() bool {
	return s == Statuses.Failed || s == Statuses.Cancelled
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.name), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	v, ok := ByName(string(text))
	if !ok {
		return fmt.Errorf("unknown payment status %q", text)
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
