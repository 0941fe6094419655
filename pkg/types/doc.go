/*
Package types defines the value-level vocabulary shared by every pubparam package.

It holds the closed set of parameter type tags, the physical units a parameter
can be labelled with, and the byte encodings used when a value travels through
the event bus as a new-state notification or a write request.

# Type Tags

	TypeInt32, TypeInt64, TypeFloat, TypeBool     fixed width scalars
	TypeFloatArray, TypeInt16Array                length-prefixed arrays
	TypeString, TypeBinary                        opaque byte payloads
	TypeExecute                                   command, no state

TypeHidden is a modifier bit OR-ed onto any tag. It never changes how a value
is encoded; listing and export code uses it to skip internal parameters:

	t := types.TypeFloat | types.TypeHidden
	t.Base()     // TypeFloat
	t.IsHidden() // true

# Wire Encoding

Scalars are little-endian and fixed width:

	int32  4 bytes
	int64  8 bytes
	float  4 bytes (IEEE 754 binary32)
	bool   1 byte (0 or 1)

Strings travel as raw UTF-8 with no terminator. Arrays carry a uint32
little-endian element count followed by the elements, so a FloatArray or
Int16Array is its own payload and can be posted without a copy:

	┌──────────┬──────────┬──────────┬─────┐
	│ len (4)  │ elem 0   │ elem 1   │ ... │
	└──────────┴──────────┴──────────┴─────┘

Arrays are laid out in caller supplied buffers. The param package obtains those
buffers from its pluggable allocator, which keeps allocation policy out of this
package.

# Units

Units mirror the symbols used on device dashboards: "", "V", "A", "Wh", "lpm",
"Kg", "%" and "g". ParseUnit maps unknown symbols to UnitNone.
*/
package types
