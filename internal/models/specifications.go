package models

import (
	"strconv"
)

// ScalarKind tags the type held by a SpecValue
type ScalarKind string

const (
	ScalarString ScalarKind = "string"
	ScalarNumber ScalarKind = "number"
	ScalarBool   ScalarKind = "bool"
)

// SpecValue is one category-specific attribute value
type SpecValue struct {
	Kind   ScalarKind `json:"kind" validate:"required,oneof=string number bool"`
	String string     `json:"string,omitempty"`
	Number float64    `json:"number,omitempty"`
	Bool   bool       `json:"bool,omitempty"`
}

// Specifications maps attribute names to tagged scalar values
type Specifications map[string]SpecValue

func StringSpec(s string) SpecValue  { return SpecValue{Kind: ScalarString, String: s} }
func NumberSpec(n float64) SpecValue { return SpecValue{Kind: ScalarNumber, Number: n} }
func BoolSpec(b bool) SpecValue      { return SpecValue{Kind: ScalarBool, Bool: b} }

// Text renders the value for display
func (v SpecValue) Text() string {
	switch v.Kind {
	case ScalarNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case ScalarBool:
		return strconv.FormatBool(v.Bool)
	default:
		return v.String
	}
}

// Value returns the held scalar as a plain Go value
func (v SpecValue) Value() interface{} {
	switch v.Kind {
	case ScalarNumber:
		return v.Number
	case ScalarBool:
		return v.Bool
	default:
		return v.String
	}
}

// GetString returns the string value for key when it holds a string
func (s Specifications) GetString(key string) (string, bool) {
	v, ok := s[key]
	if !ok || v.Kind != ScalarString {
		return "", false
	}
	return v.String, true
}

// GetNumber returns the numeric value for key when it holds a number
func (s Specifications) GetNumber(key string) (float64, bool) {
	v, ok := s[key]
	if !ok || v.Kind != ScalarNumber {
		return 0, false
	}
	return v.Number, true
}

// GetBool returns the boolean value for key when it holds a bool
func (s Specifications) GetBool(key string) (bool, bool) {
	v, ok := s[key]
	if !ok || v.Kind != ScalarBool {
		return false, false
	}
	return v.Bool, true
}
