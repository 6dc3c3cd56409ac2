package priority

import (
	"fmt"

	"github.com/appetiteclub/fulfillment/pkg/enums"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Priority orders tickets on the kitchen board. Higher Rank is served first.
type Priority struct {
	name string
	rank int
}

func (p Priority) Code() string   { return p.name }
func (p Priority) String() string { return p.name }
func (p Priority) Label() string  { return enums.Label(p.name) }
func (p Priority) IsZero() bool   { return p.name == "" }
func (p Priority) Rank() int      { return p.rank }

type Enum struct {
	Low    Priority
	Normal Priority
	High   Priority
}

var Priorities = Enum{
	Low:    Priority{name: "LOW", rank: 0},
	Normal: Priority{name: "NORMAL", rank: 1},
	High:   Priority{name: "HIGH", rank: 2},
}

var All = []Priority{
	Priorities.Low,
	Priorities.Normal,
	Priorities.High,
}

func ByName(name string) (Priority, bool) {
	code := enums.Normalize(name)
	for _, p := range All {
		if p.name == code {
			return p, true
		}
	}
	return Priority{}, false
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.name), nil
}

func (p *Priority) UnmarshalText(text []byte) error {
	v, ok := ByName(string(text))
	if !ok {
		return fmt.Errorf("unknown priority %q", text)
	}
	*p = v
	return nil
}

func (p Priority) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return enums.MarshalBSONString(p.name)
}

func (p *Priority) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	code, err := enums.UnmarshalBSONString(t, data)
	if err != nil {
		return err
	}
	return p.UnmarshalText([]byte(code))
}
