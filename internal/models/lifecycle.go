package models

import (
	"database/sql/driver"
	"fmt"
)

// LifecycleState is the durable status of a stored message.
type LifecycleState string

const (
	StateSent    LifecycleState = "sent"
	StateEdited  LifecycleState = "edited"
	StateUnsent  LifecycleState = "unsent"
	StateDeleted LifecycleState = "deleted"
)

// Operation is a mutation applied to a stored message.
type Operation int

const (
	OpEdit Operation = iota
	OpUnsend
	OpDeleteForEveryone
	OpHideForAuthor
)

func (o Operation) String() string {
	switch o {
	case OpEdit:
		return "edit"
	case OpUnsend:
		return "unsend"
	case OpDeleteForEveryone:
		return "delete"
	case OpHideForAuthor:
		return "hide"
	}
	return fmt.Sprintf("operation(%d)", int(o))
}

// AllStates lists every lifecycle state in transition order.
var AllStates = []LifecycleState{StateSent, StateEdited, StateUnsent, StateDeleted}

// Next is the single transition table. ok is false when op is not allowed from s.
// unsent and deleted are terminal; hiding for the author keeps the state.
func (s LifecycleState) Next(op Operation) (next LifecycleState, ok bool) {
	switch s {
	case StateSent, StateEdited:
		switch op {
		case OpEdit:
			return StateEdited, true
		case OpUnsend:
			return StateUnsent, true
		case OpDeleteForEveryone:
			return StateDeleted, true
		case OpHideForAuthor:
			return s, true
		}
	case StateUnsent:
		if op == OpHideForAuthor {
			return s, true
		}
	case StateDeleted:
	}
	return s, false
}

// Terminal reports whether no lifecycle transition leaves s.
func (s LifecycleState) Terminal() bool {
	return s == StateUnsent || s == StateDeleted
}

func (s LifecycleState) Valid() bool {
	switch s {
	case StateSent, StateEdited, StateUnsent, StateDeleted:
		return true
	}
	return false
}

// StatesAllowing returns the source states op may be applied from. The store
// uses it to build conditional updates.
func StatesAllowing(op Operation) []LifecycleState {
	var out []LifecycleState
	for _, s := range AllStates {
		if _, ok := s.Next(op); ok {
			out = append(out, s)
		}
	}
	return out
}

// Scan lets gorm read the column into the enum, rejecting unknown values.
func (s *LifecycleState) Scan(value interface{}) error {
	var str string
	switch v := value.(type) {
	case string:
		str = v
	case []byte:
		str = string(v)
	default:
		return fmt.Errorf("lifecycle state: unsupported scan type %T", value)
	}
	st := LifecycleState(str)
	if !st.Valid() {
		return fmt.Errorf("lifecycle state: unknown value %q", str)
	}
	*s = st
	return nil
}

func (s LifecycleState) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("lifecycle state: unknown value %q", string(s))
	}
	return string(s), nil
}
