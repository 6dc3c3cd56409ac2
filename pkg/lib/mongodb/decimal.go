package mongodb

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ToDecimal128 stores money exactly; float64 is never used on the wire to the
// database.
func ToDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("cannot convert %s to Decimal128: %w", d.String(), err)
	}
	return v, nil
}

// MustDecimal128 is for values already validated to two decimal places.
func MustDecimal128(d decimal.Decimal) primitive.Decimal128 {
	v, err := ToDecimal128(d)
	if err != nil {
		panic(err)
	}
	return v
}

func FromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("cannot convert Decimal128 %s: %w", v.String(), err)
	}
	return d, nil
}
