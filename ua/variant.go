// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import "fmt"

// variant type masks (Part 6, Sec 5.2.2.16); only the scalar types the core's
// own tests exercise are supported — a full Variant implementation belongs
// to the binary type codec, an external collaborator per spec.md §6.
const (
	variantTypeBool    byte = 1
	variantTypeInt32   byte = 6
	variantTypeUint32  byte = 7
	variantTypeFloat64 byte = 11
	variantTypeString  byte = 12
	variantTypeByteString byte = 15
)

// Variant is a dynamically typed scalar value (Part 6, Sec 5.2.2.16).
type Variant struct {
	value interface{}
}

// MustVariant builds a Variant from a Go value, panicking if the type isn't
// one of the scalar kinds this core supports.
func MustVariant(v interface{}) *Variant {
	switch v.(type) {
	case bool, int32, uint32, float64, string, []byte:
		return &Variant{value: v}
	default:
		panic(fmt.Sprintf("ua: unsupported variant type %T", v))
	}
}

// Value returns the underlying Go value.
func (v *Variant) Value() interface{} {
	if v == nil {
		return nil
	}
	return v.value
}

func (v *Variant) Encode(e *Encoder) {
	if v == nil || v.value == nil {
		e.WriteByte(0)
		return
	}
	switch val := v.value.(type) {
	case bool:
		e.WriteByte(variantTypeBool)
		e.WriteBool(val)
	case int32:
		e.WriteByte(variantTypeInt32)
		e.WriteInt32(val)
	case uint32:
		e.WriteByte(variantTypeUint32)
		e.WriteUint32(val)
	case float64:
		e.WriteByte(variantTypeFloat64)
		e.WriteFloat64(val)
	case string:
		e.WriteByte(variantTypeString)
		e.WriteString(val)
	case []byte:
		e.WriteByte(variantTypeByteString)
		e.WriteByteString(val)
	default:
		e.WriteByte(0)
	}
}

func DecodeVariant(d *Decoder) *Variant {
	mask := d.ReadByte()
	switch mask {
	case 0:
		return &Variant{}
	case variantTypeBool:
		return &Variant{value: d.ReadBool()}
	case variantTypeInt32:
		return &Variant{value: d.ReadInt32()}
	case variantTypeUint32:
		return &Variant{value: d.ReadUint32()}
	case variantTypeFloat64:
		return &Variant{value: d.ReadFloat64()}
	case variantTypeString:
		return &Variant{value: d.ReadString()}
	case variantTypeByteString:
		return &Variant{value: d.ReadByteString()}
	default:
		d.fail(fmt.Errorf("ua: unsupported variant type mask 0x%02X", mask))
		return &Variant{}
	}
}
