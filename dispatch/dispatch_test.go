package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ContractLabs/payment-gateway/types"
)

func TestDispatchInvokesHandlerOnce(t *testing.T) {
	d := NewDispatcher()
	calls := 0
	d.Register(HandlerFunc{Action: "unlock", Fn: func(context.Context, Invocation) error {
		calls++
		return nil
	}})

	err := d.Dispatch(context.Background(), Invocation{Request: types.Request{Action: "unlock"}})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDispatchUnknownAction(t *testing.T) {
	d := NewDispatcher()

	err := d.Dispatch(context.Background(), Invocation{Request: types.Request{Action: "missing"}})
	assert.True(t, types.IsCode(err, types.ErrActionFailed))
}

func TestDispatchWrapsHandlerError(t *testing.T) {
	d := NewDispatcher()
	boom := errors.New("boom")
	d.Register(HandlerFunc{Action: "explode", Fn: func(context.Context, Invocation) error {
		return boom
	}})

	err := d.Dispatch(context.Background(), Invocation{Request: types.Request{Action: "explode"}})
	assert.True(t, types.IsCode(err, types.ErrActionFailed))
	assert.ErrorIs(t, err, boom)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	d := NewDispatcher()
	h := HandlerFunc{Action: "dup", Fn: func(context.Context, Invocation) error { return nil }}
	d.Register(h)

	assert.Panics(t, func() { d.Register(h) })
}

func TestActions(t *testing.T) {
	d := NewDispatcher()
	d.Register(HandlerFunc{Action: "a", Fn: func(context.Context, Invocation) error { return nil }})
	d.Register(HandlerFunc{Action: "b", Fn: func(context.Context, Invocation) error { return nil }})

	assert.ElementsMatch(t, []string{"a", "b"}, d.Actions())
}
