package paymentmethod

import (
	"fmt"
	"strings"

	"github.com/appetiteclub/fulfillment/pkg/enums"
)

// Method is how the customer paid, as reported by the gateway.
type Method struct {
	name string
}

func (m Method) Code() string   { return m.name }
func (m Method) String() string { return m.name }
func (m Method) Label() string  { return enums.Label(m.name) }
func (m Method) IsZero() bool   { return m.name == "" }

type Enum struct {
	Card       Method
	UPI        Method
	NetBanking Method
	Wallet     Method
	COD        Method
}

var Methods = Enum{
	Card:       Method{name: "CARD"},
	UPI:        Method{name: "UPI"},
	NetBanking: Method{name: "NETBANKING"},
	Wallet:     Method{name: "WALLET"},
	COD:        Method{name: "COD"},
}

var All = []Method{
	Methods.Card,
	Methods.UPI,
	Methods.NetBanking,
	Methods.Wallet,
	Methods.COD,
}

// aliases are the spellings gateways and clients send.
var aliases = map[string]Method{
	"CREDIT_CARD": Methods.Card,
	"DEBIT_CARD":  Methods.Card,
	"NET_BANKING": Methods.NetBanking,
	"CASH":        Methods.COD,
	"EMI":         Methods.Card,
}

// ByName parses case-insensitively and accepts the common aliases.
func ByName(name string) (Method, bool) {
	code := enums.Normalize(name)
	for _, m := range All {
		if m.name == code {
			return m, true
		}
	}
	if m, ok := aliases[strings.ReplaceAll(code, " ", "_")]; ok {
		return m, true
	}
	return Method{}, false
}

func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.name), nil
}

func (m *Method) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*m = Method{}
		return nil
	}
	v, ok := ByName(string(text))
	if !ok {
		return fmt.Errorf("unknown payment method %q", text)
	}
	*m = v
	return nil
}
