package eventuate

import "context"

// Interceptor implements the six optional cross-cutting hooks fired
// around send and receive/handle (§4.6). Embed NoopInterceptor to
// implement only the hooks you need.
type Interceptor interface {
	PreSend(ctx context.Context, msg *Message) error
	PostSend(ctx context.Context, msg *Message, sendErr error)
	PreReceive(ctx context.Context, msg *Message) error
	PostReceive(ctx context.Context, msg *Message, handleErr error)
	PreHandle(ctx context.Context, msg *Message) error
	PostHandle(ctx context.Context, msg *Message, handleErr error)
}

// NoopInterceptor is embedded by interceptors that only care about a
// subset of the six hooks.
type NoopInterceptor struct{}

func (NoopInterceptor) PreSend(context.Context, *Message) error               { return nil }
func (NoopInterceptor) PostSend(context.Context, *Message, error)             {}
func (NoopInterceptor) PreReceive(context.Context, *Message) error            { return nil }
func (NoopInterceptor) PostReceive(context.Context, *Message, error)          {}
func (NoopInterceptor) PreHandle(context.Context, *Message) error             { return nil }
func (NoopInterceptor) PostHandle(context.Context, *Message, error)           {}

// InterceptorPipeline invokes a registered set of Interceptors: "pre"
// hooks in registration order, "post" hooks in reverse registration
// order (§4.6). A "pre" hook error aborts the operation; "post" hooks
// return nothing, so they cannot report an error. A panic in any hook
// is not recovered by the pipeline: it propagates to the caller and the
// remaining interceptors for that hook do not run.
type InterceptorPipeline struct {
	interceptors []Interceptor
}

// NewInterceptorPipeline builds a pipeline over the given interceptors,
// in the order they should run for "pre" hooks.
func NewInterceptorPipeline(interceptors ...Interceptor) *InterceptorPipeline {
	return &InterceptorPipeline{interceptors: interceptors}
}

func (p *InterceptorPipeline) PreSend(ctx context.Context, msg *Message) error {
	for _, ic := range p.interceptors {
		if err := ic.PreSend(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (p *InterceptorPipeline) PostSend(ctx context.Context, msg *Message, sendErr error) {
	for i := len(p.interceptors) - 1; i >= 0; i-- {
		p.interceptors[i].PostSend(ctx, msg, sendErr)
	}
}

func (p *InterceptorPipeline) PreReceive(ctx context.Context, msg *Message) error {
	for _, ic := range p.interceptors {
		if err := ic.PreReceive(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (p *InterceptorPipeline) PostReceive(ctx context.Context, msg *Message, handleErr error) {
	for i := len(p.interceptors) - 1; i >= 0; i-- {
		p.interceptors[i].PostReceive(ctx, msg, handleErr)
	}
}

func (p *InterceptorPipeline) PreHandle(ctx context.Context, msg *Message) error {
	for _, ic := range p.interceptors {
		if err := ic.PreHandle(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (p *InterceptorPipeline) PostHandle(ctx context.Context, msg *Message, handleErr error) {
	for i := len(p.interceptors) - 1; i >= 0; i-- {
		p.interceptors[i].PostHandle(ctx, msg, handleErr)
	}
}
