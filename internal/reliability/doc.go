// Package reliability provides retry policies for operations against
// flaky backends, primarily broker publishes.
//
// Policies classify errors through an optional IsRetryable method;
// errors that do not implement it are treated as transient.
//
// Example usage:
//
//	policy := NewExponentialBackoff(100*time.Millisecond, 5*time.Second, 2.0, 5)
//	err := Retry(ctx, policy, func() error {
//	    return publish(msg)
//	})
package reliability
