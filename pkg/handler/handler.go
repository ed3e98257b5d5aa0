// Package handler defines the object-side contract of the protocol: every
// addressable entity answers config, query, command and record payloads sent
// to its address.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/morezero/rtbus/pkg/message"
	"github.com/morezero/rtbus/pkg/rtid"
)

const logPrefix = "handler:handler"

// Handler is registered with a dispatcher and receives payloads whose
// destination equals its address.
type Handler interface {
	Address() rtid.RTID
	// Handle returns the outcome payload. A returned error is converted into
	// an ERROR payload by the caller.
	Handle(ctx context.Context, p *message.Payload) (*message.Payload, error)
}

// Entity supplies the entity-specific halves of the query actions.
type Entity interface {
	// QueryProperty returns one property value. Unknown names should fail
	// with INVALID_ARGUMENTS.
	QueryProperty(ctx context.Context, name string) (any, error)
	// QueryObjects resolves a description into addresses owned by the entity.
	QueryObjects(ctx context.Context, desc *message.TargetDescription) ([]rtid.RTID, error)
}

// CommandFunc is one named operation reachable through the invoke action.
type CommandFunc func(ctx context.Context, args []json.RawMessage) (any, error)

// PayloadFunc handles entity-specific command and record actions.
type PayloadFunc func(ctx context.Context, p *message.Payload) (*message.Payload, error)

// Params configures a Base.
type Params struct {
	Address  rtid.RTID
	Entity   Entity
	Commands map[string]CommandFunc
	// OnCommand handles command actions other than invoke.
	OnCommand PayloadFunc
	// OnRecord handles record payloads.
	OnRecord PayloadFunc
}

// Base implements Handler on top of an Entity. The invoke dispatch table is
// fixed at construction.
type Base struct {
	address   rtid.RTID
	entity    Entity
	commands  map[string]CommandFunc
	onCommand PayloadFunc
	onRecord  PayloadFunc

	mu     sync.RWMutex
	config map[string]json.RawMessage
}

// NewBase creates a Base. Entity is required.
func NewBase(p Params) (*Base, error) {
	if p.Entity == nil {
		return nil, fmt.Errorf("%s - handler for %s requires an entity", logPrefix, p.Address)
	}
	commands := make(map[string]CommandFunc, len(p.Commands))
	for name, fn := range p.Commands {
		if fn == nil {
			return nil, fmt.Errorf("%s - command %q for %s is nil", logPrefix, name, p.Address)
		}
		commands[name] = fn
	}
	return &Base{
		address:   p.Address,
		entity:    p.Entity,
		commands:  commands,
		onCommand: p.OnCommand,
		onRecord:  p.OnRecord,
		config:    make(map[string]json.RawMessage),
	}, nil
}

// Address returns the handler address.
func (b *Base) Address() rtid.RTID { return b.address }

// Commands lists the invokable command names in sorted order.
func (b *Base) Commands() []string {
	names := make([]string, 0, len(b.commands))
	for name := range b.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle routes p to the sub-handler for its kind.
func (b *Base) Handle(ctx context.Context, p *message.Payload) (*message.Payload, error) {
	params, err := message.DecodeParams(p)
	if err != nil {
		return nil, err
	}

	switch p.Kind {
	case message.PayloadConfig:
		return b.handleConfig(p, params)
	case message.PayloadQuery:
		return b.handleQuery(ctx, p, params)
	case message.PayloadCommand:
		if v, ok := params.(message.InvokeParams); ok {
			return b.invoke(ctx, p, v)
		}
		if b.onCommand == nil {
			return nil, message.NewError(message.CodeNotImplemented, "command %q is not supported by %s", p.Action.Name, b.address)
		}
		return b.onCommand(ctx, p)
	case message.PayloadRecord:
		if b.onRecord == nil {
			return nil, message.NewError(message.CodeNotImplemented, "record %q is not supported by %s", p.Action.Name, b.address)
		}
		return b.onRecord(ctx, p)
	default:
		return nil, message.NewError(message.CodeInvalidArguments, "unknown payload kind %q", p.Kind)
	}
}

func (b *Base) handleConfig(p *message.Payload, params message.Params) (*message.Payload, error) {
	switch v := params.(type) {
	case message.ConfigGetParams:
		b.mu.RLock()
		value, ok := b.config[v.Key]
		b.mu.RUnlock()
		if !ok {
			return p.Respond(nil)
		}
		out := p.Clone()
		out.Status = message.StatusOK
		out.Result = append(json.RawMessage(nil), value...)
		return out, nil
	case message.ConfigSetParams:
		b.mu.Lock()
		b.config[v.Key] = append(json.RawMessage(nil), v.Value...)
		b.mu.Unlock()
		return p.Respond(nil)
	default:
		return nil, message.NewError(message.CodeInvalidArguments, "unknown config action %q", p.Action.Name)
	}
}

func (b *Base) handleQuery(ctx context.Context, p *message.Payload, params message.Params) (*message.Payload, error) {
	switch p.Action.Name {
	case message.ActionQueryProperty:
		v := params.(message.PropertyParams)
		value, err := b.entity.QueryProperty(ctx, v.Name)
		if err != nil {
			return nil, err
		}
		return p.Respond(value)

	case message.ActionQueryProperties:
		v := params.(message.PropertiesParams)
		values := make(map[string]any, len(v.Names))
		for _, name := range v.Names {
			value, err := b.entity.QueryProperty(ctx, name)
			if err != nil {
				slog.Warn(fmt.Sprintf("%s - %s: property %s omitted: %v", logPrefix, b.address, name, err))
				continue
			}
			values[name] = value
		}
		return p.Respond(values)

	case message.ActionQueryObject:
		objects, err := b.queryObjects(ctx, p)
		if err != nil {
			return nil, err
		}
		switch len(objects) {
		case 0:
			return nil, message.NewError(message.CodeNoMatch, "no object matched under %s", b.address)
		case 1:
			return p.RespondObjects(objects), nil
		default:
			return nil, message.NewError(message.CodeAmbiguousMatch, "%d objects matched under %s", len(objects), b.address)
		}

	case message.ActionQueryObjects:
		objects, err := b.queryObjects(ctx, p)
		if err != nil {
			return nil, err
		}
		return p.RespondObjects(objects), nil

	default:
		return nil, message.NewError(message.CodeInvalidArguments, "unknown query action %q", p.Action.Name)
	}
}

func (b *Base) queryObjects(ctx context.Context, p *message.Payload) ([]rtid.RTID, error) {
	if err := p.TargetDescription.Validate(); err != nil {
		return nil, err
	}
	return b.entity.QueryObjects(ctx, p.TargetDescription)
}

func (b *Base) invoke(ctx context.Context, p *message.Payload, v message.InvokeParams) (*message.Payload, error) {
	fn, ok := b.commands[v.Name]
	if !ok {
		return nil, message.NewError(message.CodeInvalidArguments, "%s has no command %q", b.address, v.Name)
	}
	result, err := fn(ctx, v.Args)
	if err != nil {
		return nil, err
	}
	return p.Respond(result)
}
