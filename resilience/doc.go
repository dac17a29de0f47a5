// Package resilience protects calls to unreliable dependencies with retries,
// per-operation circuit breakers, a dead-letter sink for terminal failures
// and severity-based escalation.
//
// The entry point is the Protector, which composes the pieces:
//
//	p := resilience.New(
//		resilience.WithLogger(log),
//		resilience.WithEventing(events),
//	)
//	err := p.ExecuteWithFullProtection(ctx, resilience.OperationContext{
//		Operation: "payment.charge",
//		Severity:  resilience.SeverityHigh,
//	}, func(ctx context.Context) error {
//		return chargeCard(ctx, req)
//	})
//
// Breaker state is per-process and per-operation name. Terminal failures are
// recorded against the operation's breaker, published to the dead-letter
// sink and, for HIGH or CRITICAL operations, escalated.
package resilience
