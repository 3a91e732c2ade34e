package engine

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// SignalSink receives signals posted by guest code through the signal import.
type SignalSink interface {
	PostSignal(hi, lo uint32)
}

type sinkKey struct{}

func withSignalSink(ctx context.Context, sink SignalSink) context.Context {
	if sink == nil {
		return ctx
	}
	return context.WithValue(ctx, sinkKey{}, sink)
}

// SignalSinkFrom returns the sink bound to ctx, or nil.
func SignalSinkFrom(ctx context.Context) SignalSink {
	sink, _ := ctx.Value(sinkKey{}).(SignalSink)
	return sink
}

// postSignal backs the signal import. Every instance shares the same host
// function; the calling instance is identified by the sink in ctx.
func postSignal(ctx context.Context, _ api.Module, stack []uint64) {
	hi, lo := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])

	sink := SignalSinkFrom(ctx)
	if sink == nil {
		Logger().Debug("signal dropped, no sink bound",
			zap.Uint32("hi", hi),
			zap.Uint32("lo", lo))
		return
	}
	sink.PostSignal(hi, lo)
}
