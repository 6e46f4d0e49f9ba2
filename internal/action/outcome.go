// Package action binds parsed instructions to the robot and the scene.
//
// Motion primitives are validated and forwarded to the robot; query
// primitives read a scene snapshot; goal primitives only signal completion.
// Every failure becomes an Outcome value. Nothing the robot does can make
// Invoke return an error or panic.
package action

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fuangela/AutoDrone/internal/minispec"
	"github.com/fuangela/AutoDrone/internal/scene"
)

// Status is the terminal state of one dispatched instruction.
type Status string

const (
	StatusOK                 Status = "ok"
	StatusQueryEmpty         Status = "query-empty"
	StatusPreconditionFailed Status = "precondition-failed"
	StatusActionError        Status = "action-error"
)

// Value is a runtime value: a literal argument or a query result.
type Value struct {
	Type minispec.Type
	Num  float64
	Str  string
	Obj  scene.Object
}

// NumberValue wraps a number.
func NumberValue(v float64) Value { return Value{Type: minispec.TypeNumber, Num: v} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{Type: minispec.TypeString, Str: s} }

// ObjectValue wraps a scene object.
func ObjectValue(o scene.Object) Value { return Value{Type: minispec.TypeObject, Obj: o} }

func (v Value) String() string {
	switch v.Type {
	case minispec.TypeNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case minispec.TypeString:
		return strconv.Quote(v.Str)
	case minispec.TypeObject:
		x, y := v.Obj.Box.Center()
		return fmt.Sprintf("%s#%d@(%.2f,%.2f)", v.Obj.Class, v.Obj.Index, x, y)
	default:
		return "none"
	}
}

// MarshalJSON renders numbers and strings as JSON scalars and objects as
// scene objects.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Type {
	case minispec.TypeNumber:
		return json.Marshal(v.Num)
	case minispec.TypeString:
		return json.Marshal(v.Str)
	case minispec.TypeObject:
		return json.Marshal(v.Obj)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON is the inverse of MarshalJSON, used when reading stored
// missions back.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || string(data) == "null":
		*v = Value{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case data[0] == '{':
		var o scene.Object
		if err := json.Unmarshal(data, &o); err != nil {
			return err
		}
		*v = ObjectValue(o)
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = NumberValue(n)
	}
	return nil
}

// Outcome is the result of one instruction.
type Outcome struct {
	Index       int    `json:"index"`
	Instruction string `json:"instruction"`
	Op          string `json:"op"`
	Status      Status `json:"status"`
	Value       *Value `json:"value,omitempty"`
	Explanation string `json:"explanation"`

	// Err is the underlying collaborator error, if any.
	Err error `json:"-"`
}

// OK reports whether the instruction succeeded.
func (o Outcome) OK() bool { return o.Status == StatusOK }

// Summary is the one-line form used in replanning context.
func (o Outcome) Summary() string {
	return fmt.Sprintf("%s: %s - %s", o.Instruction, o.Status, o.Explanation)
}
