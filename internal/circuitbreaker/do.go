package circuitbreaker

import "context"

// Do wraps an operation that returns a value. The zero value is
// returned on rejection or failure.
func Do[T any](ctx context.Context, r *Registry, name string, op func(ctx context.Context) (T, error), opts ...Options) (T, error) {
	var result T
	err := r.Execute(ctx, name, func(ctx context.Context) error {
		value, opErr := op(ctx)
		if opErr != nil {
			return opErr
		}
		result = value
		return nil
	}, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
