package consumer

import (
	"context"

	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate"
)

// Next is the continuation a Decorator must call at most once to
// invoke the rest of the chain (§3: "each decorator sees the call
// exactly once and must invoke next at most once").
type Next func(ctx context.Context, msg eventuate.Message) error

// Decorator wraps next into a new Next. Decorators are folded into a
// single Next once, at subscription time, and that chain is reused for
// every message the subscription receives (§4.5: "chains are
// constructed at subscription time and reused per message").
type Decorator func(next Next) Next

// buildChain folds decorators around terminal, outermost first, so
// decorators[0] is the first decorator to see the call.
func buildChain(terminal Next, decorators ...Decorator) Next {
	chain := terminal
	for i := len(decorators) - 1; i >= 0; i-- {
		chain = decorators[i](chain)
	}
	return chain
}
