// Package abi implements the self-describing component-model Value that
// every Host Function Call event carries as its input/output. Recording
// a Value instead of raw bytes is what lets the Replay Engine compare
// calls by structured equality rather than by encoding-sensitive byte
// equality.
package abi

import "reflect"

type Kind string

const (
	KindUnit    Kind = "unit"
	KindBool    Kind = "bool"
	KindInt     Kind = "int"  // signed integer, any width
	KindUint    Kind = "uint" // unsigned integer, any width
	KindFloat   Kind = "float"
	KindString  Kind = "string"
	KindBytes   Kind = "bytes"
	KindList    Kind = "list"
	KindTuple   Kind = "tuple"
	KindRecord  Kind = "record"
	KindVariant Kind = "variant"
	KindOption  Kind = "option"
	KindResult  Kind = "result"
)

// Value is a flat, JSON-canonical encoding of a component-model value. Only
// the fields relevant to Kind are populated; the rest stay at zero value, so
// two Values produced from the same logical data always marshal identically
// (jsoniter sorts map keys, and struct fields are encoded in the order
// declared below - the canonical, stable encoding that hashing depends on).
type Value struct {
	Kind    Kind             `json:"kind"`
	Bool    bool             `json:"bool,omitempty"`
	Int     int64            `json:"int,omitempty"`
	Uint    uint64           `json:"uint,omitempty"`
	Float   float64          `json:"float,omitempty"`
	Str     string           `json:"str,omitempty"`
	Bytes   []byte           `json:"bytes,omitempty"`
	Items   []Value          `json:"items,omitempty"`
	Fields  map[string]Value `json:"fields,omitempty"`
	Case    string           `json:"case,omitempty"`
	Payload *Value           `json:"payload,omitempty"`
	Ok      *Value           `json:"ok,omitempty"`
	Err     *Value           `json:"err,omitempty"`
}

func Unit() Value               { return Value{Kind: KindUnit} }
func Bool(b bool) Value         { return Value{Kind: KindBool, Bool: b} }
func Int(n int64) Value         { return Value{Kind: KindInt, Int: n} }
func Uint(n uint64) Value       { return Value{Kind: KindUint, Uint: n} }
func Float(f float64) Value     { return Value{Kind: KindFloat, Float: f} }
func String(s string) Value     { return Value{Kind: KindString, Str: s} }
func Bytes(b []byte) Value      { return Value{Kind: KindBytes, Bytes: b} }
func List(items ...Value) Value { return Value{Kind: KindList, Items: items} }
func Tuple(items ...Value) Value {
	return Value{Kind: KindTuple, Items: items}
}
func Record(fields map[string]Value) Value {
	return Value{Kind: KindRecord, Fields: fields}
}
func Variant(caseName string, payload *Value) Value {
	return Value{Kind: KindVariant, Case: caseName, Payload: payload}
}
func Some(v Value) Value { return Value{Kind: KindOption, Payload: &v} }
func None() Value        { return Value{Kind: KindOption} }
func Ok(v Value) Value   { return Value{Kind: KindResult, Ok: &v} }
func Err(v Value) Value  { return Value{Kind: KindResult, Err: &v} }

func (v Value) IsErr() bool { return v.Kind == KindResult && v.Err != nil }

// Equal compares two Values by structure, not by any particular encoding -
// this is the comparison the Replay Engine uses when checking a live host
// call's input against the recorded one.
func (v Value) Equal(o Value) bool {
	return reflect.DeepEqual(v, o)
}
