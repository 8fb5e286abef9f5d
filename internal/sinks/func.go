package sinks

import (
	"context"

	"github.com/edgewatch/edgewatch/internal/domain"
)

// FuncSink adapts a function into a sink. Handy in tests and for
// small embedders that just want a callback.
type FuncSink struct {
	SinkName string
	Fn       func(ctx context.Context, channel domain.Channel, op domain.Opportunity) bool
}

func (s FuncSink) Name() string {
	if s.SinkName != "" {
		return s.SinkName
	}
	return "func"
}

func (s FuncSink) Deliver(ctx context.Context, channel domain.Channel, op domain.Opportunity) bool {
	if s.Fn == nil {
		return false
	}
	return s.Fn(ctx, channel, op)
}
