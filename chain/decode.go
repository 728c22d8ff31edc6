package chain

import (
	"context"
	"fmt"

	"rose-market-client/core/model"
)

// Reader is the read-only half of the connector.
type Reader interface {
	Invoke(ctx context.Context, from model.Identity, call model.Call) ([]interface{}, error)
}

// First returns the first unpacked output of method as a T.
func First[T any](out []interface{}, method string) (T, error) {
	var zero T
	if len(out) == 0 {
		return zero, model.NewError(model.KindRpc, method, fmt.Errorf("no outputs"))
	}
	v, ok := out[0].(T)
	if !ok {
		return zero, model.NewError(model.KindRpc, method, fmt.Errorf("unexpected output type %T", out[0]))
	}
	return v, nil
}

// ReadOne invokes call and returns its first output as a T.
func ReadOne[T any](ctx context.Context, r Reader, from model.Identity, call model.Call) (T, error) {
	out, err := r.Invoke(ctx, from, call)
	if err != nil {
		var zero T
		return zero, err
	}
	return First[T](out, call.Method)
}
