package dispatch

import (
	"context"

	"github.com/hehbot/chatgate/internal/model"
)

// Handler consumes typed message events. Calls are made from a single
// delivery goroutine in gateway order.
type Handler interface {
	OnMessageCreate(ctx context.Context, m model.Message)
	OnMessageUpdate(ctx context.Context, u model.MessageUpdate)
	OnMessageDelete(ctx context.Context, d model.MessageDelete)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Create func(ctx context.Context, m model.Message)
	Update func(ctx context.Context, u model.MessageUpdate)
	Delete func(ctx context.Context, d model.MessageDelete)
}

func (h HandlerFuncs) OnMessageCreate(ctx context.Context, m model.Message) {
	if h.Create != nil {
		h.Create(ctx, m)
	}
}

func (h HandlerFuncs) OnMessageUpdate(ctx context.Context, u model.MessageUpdate) {
	if h.Update != nil {
		h.Update(ctx, u)
	}
}

func (h HandlerFuncs) OnMessageDelete(ctx context.Context, d model.MessageDelete) {
	if h.Delete != nil {
		h.Delete(ctx, d)
	}
}

// Multi fans every event out to each handler in order. Nil handlers are
// dropped.
func Multi(handlers ...Handler) Handler {
	out := make(multi, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

type multi []Handler

// each calls fn for every handler. A panic in one handler does not stop the
// rest; the first panic is raised again once all have run so the dispatcher
// still logs and counts it.
func (m multi) each(fn func(h Handler)) {
	var first any
	for _, h := range m {
		func() {
			defer func() {
				if r := recover(); r != nil && first == nil {
					first = r
				}
			}()
			fn(h)
		}()
	}
	if first != nil {
		panic(first)
	}
}

func (m multi) OnMessageCreate(ctx context.Context, msg model.Message) {
	m.each(func(h Handler) { h.OnMessageCreate(ctx, msg) })
}

func (m multi) OnMessageUpdate(ctx context.Context, u model.MessageUpdate) {
	m.each(func(h Handler) { h.OnMessageUpdate(ctx, u) })
}

func (m multi) OnMessageDelete(ctx context.Context, d model.MessageDelete) {
	m.each(func(h Handler) { h.OnMessageDelete(ctx, d) })
}
