// Package enums holds helpers shared by the status packages below it.
package enums

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// MarshalBSONString stores a status as a plain BSON string.
func MarshalBSONString(code string) (bsontype.Type, []byte, error) {
	return bson.MarshalValue(code)
}

// UnmarshalBSONString reads a BSON string written by MarshalBSONString.
func UnmarshalBSONString(t bsontype.Type, data []byte) (string, error) {
	s, ok := bson.RawValue{Type: t, Value: data}.StringValueOK()
	if !ok {
		return "", fmt.Errorf("status must be a BSON string, got %s", t)
	}
	return s, nil
}

// Label turns READY_TO_SERVE into "Ready To Serve".
func Label(code string) string {
	parts := strings.Split(strings.ToLower(code), "_")
	for i := range parts {
		if len(parts[i]) > 0 {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, " ")
}

// Normalize upper-cases and trims user input before lookup.
func Normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
