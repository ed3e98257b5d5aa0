package message

import (
	"encoding/json"
)

// Well-known action names handled by every entity.
const (
	ActionQueryProperty   = "query_property"
	ActionQueryProperties = "query_properties"
	ActionQueryObject     = "query_object"
	ActionQueryObjects    = "query_objects"
	ActionInvoke          = "invoke"
	ActionConfigGet       = "get"
	ActionConfigSet       = "set"
)

// Params is the decoded variant of Action.Params. The concrete type is
// selected by the action name.
type Params interface {
	actionName() string
}

// InvokeParams calls a named command on the destination entity.
type InvokeParams struct {
	Name string            `json:"name"`
	Args []json.RawMessage `json:"args,omitempty"`
}

func (InvokeParams) actionName() string { return ActionInvoke }

// PropertyParams names one property.
type PropertyParams struct {
	Name string `json:"name"`
}

func (PropertyParams) actionName() string { return ActionQueryProperty }

// PropertiesParams names several properties.
type PropertiesParams struct {
	Names []string `json:"names"`
}

func (PropertiesParams) actionName() string { return ActionQueryProperties }

// ConfigGetParams reads one config key.
type ConfigGetParams struct {
	Key string `json:"key"`
}

func (ConfigGetParams) actionName() string { return ActionConfigGet }

// ConfigSetParams writes one config key.
type ConfigSetParams struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (ConfigSetParams) actionName() string { return ActionConfigSet }

// RawParams is the variant for entity-specific actions.
type RawParams struct {
	Name string
	Raw  json.RawMessage
}

func (p RawParams) actionName() string { return p.Name }

// DecodeParams decodes the params of p's action into its typed variant.
// Query-object actions take no params: their input is the target description.
func DecodeParams(p *Payload) (Params, error) {
	a := p.Action
	switch {
	case p.Kind == PayloadCommand && a.Name == ActionInvoke:
		var v InvokeParams
		if err := decodeRequired(a, &v); err != nil {
			return nil, err
		}
		if v.Name == "" {
			return nil, NewError(CodeInvalidArguments, "invoke requires a function name")
		}
		return v, nil
	case p.Kind == PayloadQuery && a.Name == ActionQueryProperty:
		var v PropertyParams
		if err := decodeRequired(a, &v); err != nil {
			return nil, err
		}
		if v.Name == "" {
			return nil, NewError(CodeInvalidArguments, "query_property requires a name")
		}
		return v, nil
	case p.Kind == PayloadQuery && a.Name == ActionQueryProperties:
		var v PropertiesParams
		if err := decodeRequired(a, &v); err != nil {
			return nil, err
		}
		return v, nil
	case p.Kind == PayloadConfig && a.Name == ActionConfigGet:
		var v ConfigGetParams
		if err := decodeRequired(a, &v); err != nil {
			return nil, err
		}
		return v, nil
	case p.Kind == PayloadConfig && a.Name == ActionConfigSet:
		var v ConfigSetParams
		if err := decodeRequired(a, &v); err != nil {
			return nil, err
		}
		if v.Key == "" {
			return nil, NewError(CodeInvalidArguments, "set requires a key")
		}
		return v, nil
	default:
		return RawParams{Name: a.Name, Raw: a.Params}, nil
	}
}

func decodeRequired(a Action, v any) error {
	if len(a.Params) == 0 {
		return NewError(CodeInvalidArguments, "%s requires params", a.Name)
	}
	if err := json.Unmarshal(a.Params, v); err != nil {
		return NewError(CodeInvalidArguments, "failed to parse %s params: %v", a.Name, err)
	}
	return nil
}
