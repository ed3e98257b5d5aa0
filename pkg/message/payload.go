package message

import (
	"encoding/json"
	"fmt"

	"github.com/morezero/rtbus/pkg/rtid"
)

// PayloadKind selects the handler sub-protocol.
type PayloadKind string

const (
	PayloadQuery   PayloadKind = "query"
	PayloadCommand PayloadKind = "command"
	PayloadConfig  PayloadKind = "config"
	PayloadRecord  PayloadKind = "record"
)

// Status marks a payload as a result.
type Status string

const (
	StatusOK    Status = "OK"
	StatusError Status = "ERROR"
)

// Action names the operation and carries its raw params. Params are decoded
// into a typed variant by DecodeParams.
type Action struct {
	Name   string          `json:"name"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ErrorInfo is the wire form of a failed outcome.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Payload is both the request and, once Status is set, its result.
type Payload struct {
	Kind              PayloadKind        `json:"kind"`
	Destination       rtid.RTID          `json:"destination"`
	Action            Action             `json:"action"`
	TargetDescription *TargetDescription `json:"targetDescription,omitempty"`
	Objects           []rtid.RTID        `json:"objects,omitempty"`
	Status            Status             `json:"status,omitempty"`
	Error             *ErrorInfo         `json:"error,omitempty"`
	Result            json.RawMessage    `json:"result,omitempty"`
}

// NewPayload builds a request payload. params may be nil.
func NewPayload(kind PayloadKind, dest rtid.RTID, name string, params any) (*Payload, error) {
	p := &Payload{Kind: kind, Destination: dest, Action: Action{Name: name}}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("message: encode %s params: %w", name, err)
		}
		p.Action.Params = raw
	}
	return p, nil
}

// Validate checks the fields every payload must carry.
func (p *Payload) Validate() error {
	switch p.Kind {
	case PayloadQuery, PayloadCommand, PayloadConfig, PayloadRecord:
	default:
		return fmt.Errorf("message: unknown payload kind %q", p.Kind)
	}
	if p.Action.Name == "" {
		return fmt.Errorf("message: payload without action name")
	}
	return nil
}

// IsResult reports whether the payload carries an outcome.
func (p *Payload) IsResult() bool {
	return p.Status != ""
}

// Clone returns a copy that shares no mutable slices with p.
func (p *Payload) Clone() *Payload {
	out := *p
	if p.Objects != nil {
		out.Objects = append([]rtid.RTID(nil), p.Objects...)
	}
	if p.Error != nil {
		e := *p.Error
		out.Error = &e
	}
	return &out
}

// Respond returns a clone of the request carrying an OK outcome.
func (p *Payload) Respond(result any) (*Payload, error) {
	out := p.Clone()
	out.Status = StatusOK
	out.Error = nil
	out.Result = nil
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("message: encode result: %w", err)
		}
		out.Result = raw
	}
	return out, nil
}

// RespondObjects returns a clone with an OK outcome listing addresses.
func (p *Payload) RespondObjects(objects []rtid.RTID) *Payload {
	out := p.Clone()
	out.Status = StatusOK
	out.Error = nil
	out.Objects = append([]rtid.RTID{}, objects...)
	return out
}

// Fail returns a clone of the request carrying an ERROR outcome. Errors that
// are not *Error are reported as HANDLER_ERROR.
func (p *Payload) Fail(err error) *Payload {
	out := p.Clone()
	out.Status = StatusError
	out.Result = nil
	e := AsError(err)
	out.Error = &ErrorInfo{Code: e.Code, Message: e.Message}
	return out
}

// Err returns the structured error of an ERROR payload, nil otherwise.
func (p *Payload) Err() error {
	if p.Status != StatusError {
		return nil
	}
	if p.Error == nil {
		return &Error{Code: CodeHandlerError, Message: "error status without details"}
	}
	return &Error{Code: p.Error.Code, Message: p.Error.Message}
}

// DecodeResult unmarshals the result into v.
func (p *Payload) DecodeResult(v any) error {
	if len(p.Result) == 0 {
		return fmt.Errorf("message: payload has no result")
	}
	return json.Unmarshal(p.Result, v)
}
