package handler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/rtbus/pkg/message"
	"github.com/morezero/rtbus/pkg/rtid"
)

type fakeEntity struct {
	props    map[string]any
	objects  []rtid.RTID
	lastDesc *message.TargetDescription
}

func (e *fakeEntity) QueryProperty(_ context.Context, name string) (any, error) {
	v, ok := e.props[name]
	if !ok {
		return nil, message.NewError(message.CodeInvalidArguments, "unknown property %q", name)
	}
	return v, nil
}

func (e *fakeEntity) QueryObjects(_ context.Context, desc *message.TargetDescription) ([]rtid.RTID, error) {
	e.lastDesc = desc
	return e.objects, nil
}

func newTestBase(t *testing.T, entity *fakeEntity) *Base {
	t.Helper()
	b, err := NewBase(Params{
		Address: rtid.Tab(7),
		Entity:  entity,
		Commands: map[string]CommandFunc{
			"add": func(_ context.Context, args []json.RawMessage) (any, error) {
				var a, b int
				if err := Arg(args, 0, &a); err != nil {
					return nil, err
				}
				if err := Arg(args, 1, &b); err != nil {
					return nil, err
				}
				return map[string]int{"sum": a + b}, nil
			},
			"fail": func(context.Context, []json.RawMessage) (any, error) {
				return nil, errors.New("tab crashed")
			},
		},
	})
	require.NoError(t, err)
	return b
}

func payload(t *testing.T, kind message.PayloadKind, action string, params any) *message.Payload {
	t.Helper()
	p, err := message.NewPayload(kind, rtid.Tab(7), action, params)
	require.NoError(t, err)
	return p
}

func TestNewBase_RequiresEntity(t *testing.T) {
	_, err := NewBase(Params{Address: rtid.Tab(1)})
	assert.Error(t, err)

	_, err = NewBase(Params{Address: rtid.Tab(1), Entity: &fakeEntity{}, Commands: map[string]CommandFunc{"x": nil}})
	assert.Error(t, err)
}

func TestBase_ConfigGetSet(t *testing.T) {
	b := newTestBase(t, &fakeEntity{})
	ctx := context.Background()

	res, err := b.Handle(ctx, payload(t, message.PayloadConfig, message.ActionConfigGet, message.ConfigGetParams{Key: "mode"}))
	require.NoError(t, err)
	assert.Equal(t, message.StatusOK, res.Status)
	assert.Empty(t, res.Result)

	_, err = b.Handle(ctx, payload(t, message.PayloadConfig, message.ActionConfigSet, message.ConfigSetParams{Key: "mode", Value: json.RawMessage(`"fast"`)}))
	require.NoError(t, err)

	res, err = b.Handle(ctx, payload(t, message.PayloadConfig, message.ActionConfigGet, message.ConfigGetParams{Key: "mode"}))
	require.NoError(t, err)
	assert.JSONEq(t, `"fast"`, string(res.Result))

	_, err = b.Handle(ctx, payload(t, message.PayloadConfig, "delete", message.ConfigGetParams{Key: "mode"}))
	assert.ErrorIs(t, err, message.ErrInvalidArguments)
}

func TestBase_QueryProperty(t *testing.T) {
	b := newTestBase(t, &fakeEntity{props: map[string]any{"url": "https://example.com"}})

	res, err := b.Handle(context.Background(), payload(t, message.PayloadQuery, message.ActionQueryProperty, message.PropertyParams{Name: "url"}))
	require.NoError(t, err)
	assert.JSONEq(t, `"https://example.com"`, string(res.Result))

	_, err = b.Handle(context.Background(), payload(t, message.PayloadQuery, message.ActionQueryProperty, message.PropertyParams{Name: "nope"}))
	assert.ErrorIs(t, err, message.ErrInvalidArguments)
}

func TestBase_QueryPropertiesIsBestEffort(t *testing.T) {
	b := newTestBase(t, &fakeEntity{props: map[string]any{"url": "u", "title": "t"}})

	res, err := b.Handle(context.Background(), payload(t, message.PayloadQuery, message.ActionQueryProperties,
		message.PropertiesParams{Names: []string{"url", "missing", "title"}}))
	require.NoError(t, err)
	assert.Equal(t, message.StatusOK, res.Status)
	assert.JSONEq(t, `{"url":"u","title":"t"}`, string(res.Result))
}

func TestBase_QueryObject(t *testing.T) {
	desc := &message.TargetDescription{QueryInfo: &message.QueryInfo{}}
	tests := []struct {
		name    string
		objects []rtid.RTID
		wantErr error
	}{
		{"none", nil, message.ErrNoMatch},
		{"one", []rtid.RTID{rtid.Frame(7, 0).WithObject(3)}, nil},
		{"many", []rtid.RTID{rtid.Frame(7, 0).WithObject(3), rtid.Frame(7, 0).WithObject(4)}, message.ErrAmbiguousMatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entity := &fakeEntity{objects: tt.objects}
			b := newTestBase(t, entity)
			p := payload(t, message.PayloadQuery, message.ActionQueryObject, nil)
			p.TargetDescription = desc

			res, err := b.Handle(context.Background(), p)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, res.Objects, 1)
			assert.Same(t, desc, entity.lastDesc)
		})
	}
}

func TestBase_QueryObjectsAlwaysOK(t *testing.T) {
	b := newTestBase(t, &fakeEntity{})
	p := payload(t, message.PayloadQuery, message.ActionQueryObjects, nil)
	p.TargetDescription = &message.TargetDescription{QueryInfo: &message.QueryInfo{}}

	res, err := b.Handle(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, message.StatusOK, res.Status)
	assert.NotNil(t, res.Objects)
	assert.Empty(t, res.Objects)

	p.TargetDescription = nil
	_, err = b.Handle(context.Background(), p)
	assert.ErrorIs(t, err, message.ErrInvalidArguments)
}

func TestBase_Invoke(t *testing.T) {
	b := newTestBase(t, &fakeEntity{})
	ctx := context.Background()

	res, err := b.Handle(ctx, payload(t, message.PayloadCommand, message.ActionInvoke, map[string]any{"name": "add", "args": []int{2, 3}}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"sum":5}`, string(res.Result))

	_, err = b.Handle(ctx, payload(t, message.PayloadCommand, message.ActionInvoke, map[string]any{"name": "add", "args": []int{2}}))
	assert.ErrorIs(t, err, message.ErrInvalidArguments)

	_, err = b.Handle(ctx, payload(t, message.PayloadCommand, message.ActionInvoke, map[string]any{"name": "explode"}))
	assert.ErrorIs(t, err, message.ErrInvalidArguments)

	_, err = b.Handle(ctx, payload(t, message.PayloadCommand, message.ActionInvoke, map[string]any{"name": "fail"}))
	assert.EqualError(t, err, "tab crashed")

	assert.Equal(t, []string{"add", "fail"}, b.Commands())
}

func TestBase_AbstractActions(t *testing.T) {
	b := newTestBase(t, &fakeEntity{})
	ctx := context.Background()

	_, err := b.Handle(ctx, payload(t, message.PayloadCommand, "click", nil))
	assert.ErrorIs(t, err, message.ErrNotImplemented)
	_, err = b.Handle(ctx, payload(t, message.PayloadRecord, "start", nil))
	assert.ErrorIs(t, err, message.ErrNotImplemented)

	withHooks, err := NewBase(Params{
		Address: rtid.Tab(7),
		Entity:  &fakeEntity{},
		OnCommand: func(_ context.Context, p *message.Payload) (*message.Payload, error) {
			return p.Respond("clicked")
		},
		OnRecord: func(_ context.Context, p *message.Payload) (*message.Payload, error) {
			return p.Respond("recording")
		},
	})
	require.NoError(t, err)

	res, err := withHooks.Handle(ctx, payload(t, message.PayloadCommand, "click", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `"clicked"`, string(res.Result))
	res, err = withHooks.Handle(ctx, payload(t, message.PayloadRecord, "start", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `"recording"`, string(res.Result))
}

func TestOptionalArg(t *testing.T) {
	args := []json.RawMessage{json.RawMessage(`true`)}
	var flag bool
	ok, err := OptionalArg(args, 0, &flag)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, flag)

	ok, err = OptionalArg(args, 1, &flag)
	require.NoError(t, err)
	assert.False(t, ok)
}
