package types

import (
	"fmt"
	"strings"
)

// ParamType is the type tag carried by a parameter
type ParamType uint8

const (
	TypeInt32 ParamType = iota
	TypeInt64
	TypeFloat
	TypeBool
	TypeFloatArray
	TypeInt16Array
	TypeString
	TypeBinary
	TypeExecute
)

// TypeHidden is an orthogonal modifier bit. It only affects listing filters.
const TypeHidden ParamType = 0x80

var typeNames = map[ParamType]string{
	TypeInt32:      "int32",
	TypeInt64:      "int64",
	TypeFloat:      "float",
	TypeBool:       "bool",
	TypeFloatArray: "float_array",
	TypeInt16Array: "int16_array",
	TypeString:     "string",
	TypeBinary:     "binary",
	TypeExecute:    "execute",
}

// Base returns the type with the Hidden modifier stripped
func (t ParamType) Base() ParamType {
	return t &^ TypeHidden
}

// IsHidden reports whether the Hidden modifier is set
func (t ParamType) IsHidden() bool {
	return t&TypeHidden != 0
}

// Valid reports whether the base type belongs to the closed set
func (t ParamType) Valid() bool {
	_, ok := typeNames[t.Base()]
	return ok
}

// String returns the type name, suffixed with ",hidden" when the modifier is set
func (t ParamType) String() string {
	name, ok := typeNames[t.Base()]
	if !ok {
		name = fmt.Sprintf("unknown(%d)", uint8(t.Base()))
	}
	if t.IsHidden() {
		return name + ",hidden"
	}
	return name
}

// ParseType converts a type name (as produced by String) back to a ParamType
func ParseType(s string) (ParamType, error) {
	var hidden ParamType
	name := strings.ToLower(strings.TrimSpace(s))
	if base, ok := strings.CutSuffix(name, ",hidden"); ok {
		name = base
		hidden = TypeHidden
	}
	for t, n := range typeNames {
		if n == name {
			return t | hidden, nil
		}
	}
	return 0, fmt.Errorf("unknown parameter type: %q", s)
}

// Unit is the physical unit attached to a parameter
type Unit uint8

const (
	UnitNone Unit = iota
	UnitVolt
	UnitAmpere
	UnitWattHour
	UnitLitersPerMinute
	UnitKilogram
	UnitPercentage
	UnitGram
	unitEnd
)

var unitStrings = [unitEnd]string{"", "V", "A", "Wh", "lpm", "Kg", "%", "g"}

// String returns the unit symbol, empty for UnitNone
func (u Unit) String() string {
	if u >= unitEnd {
		return ""
	}
	return unitStrings[u]
}

// ParseUnit maps a unit symbol to a Unit. Unknown symbols map to UnitNone.
func ParseUnit(s string) Unit {
	for u := UnitVolt; u < unitEnd; u++ {
		if unitStrings[u] == s {
			return u
		}
	}
	return UnitNone
}
