package bridge

import (
	"context"
	"errors"
	"io"

	"github.com/orbitalsys/telebridge/internal/logging"
	"github.com/orbitalsys/telebridge/internal/metrics"
	"github.com/orbitalsys/telebridge/internal/recovery"
)

// runOutboundPump reads datagrams from the listen socket and writes each one
// as a single message on the persistent send sub-stream. The first receive
// or write error ends the loop; this is the pump's normal termination path.
func (b *Bridge) runOutboundPump(ctx context.Context, send SendStream) {
	defer recovery.RecoverWithLog(b.logger, "bridge.outboundPump")
	defer send.Close()

	logger := b.logger.With(logging.KeyDirection, metrics.DirectionOutbound)
	buf := make([]byte, MaxDatagramSize+1)

	for {
		n, err := b.listen.Receive(buf)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("outbound pump stopped")
				b.metrics.RecordPumpTermination(metrics.DirectionOutbound, metrics.ReasonShutdown)
			} else {
				logger.Error("datagram receive failed", logging.KeyError, err)
				b.metrics.RecordPumpTermination(metrics.DirectionOutbound, metrics.ReasonReceiveError)
			}
			return
		}

		if err := send.WriteMessage(buf[:n]); err != nil {
			logger.Error("sub-stream write failed", logging.KeyError, err)
			b.metrics.RecordPumpTermination(metrics.DirectionOutbound, metrics.ReasonWriteError)
			return
		}

		b.datagramsOut.Add(1)
		b.bytesOut.Add(uint64(n))
		b.metrics.RecordForward(metrics.DirectionOutbound, n)

		logger.Debug("datagram forwarded", logging.KeyBytes, n)
	}
}

// runInboundPump accepts exactly one sub-stream from the channel and forwards
// every message on it as one UDP datagram to the forward address. A UDP send
// failure is logged but does not stop the loop; end-of-stream and read errors
// terminate it normally.
func (b *Bridge) runInboundPump(ctx context.Context, target *Endpoint) {
	defer recovery.RecoverWithLog(b.logger, "bridge.inboundPump")

	logger := b.logger.With(logging.KeyDirection, metrics.DirectionInbound)

	stream, err := b.channel.AcceptStream(ctx)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("inbound pump stopped before a sub-stream arrived")
			b.metrics.RecordPumpTermination(metrics.DirectionInbound, metrics.ReasonShutdown)
		} else {
			logger.Error("sub-stream accept failed", logging.KeyError, err)
			b.metrics.RecordPumpTermination(metrics.DirectionInbound, metrics.ReasonAcceptError)
		}
		return
	}

	recv, ok := stream.(ReceiveStream)
	if !ok {
		// Protocol-shape violation: only the first accepted sub-stream is
		// ever used, so a wrong variant is terminal for this pump.
		logger.Warn("dropping unusable sub-stream", logging.KeyError, ErrUnexpectedStream)
		stream.Close()
		b.metrics.RecordPumpTermination(metrics.DirectionInbound, metrics.ReasonWrongStream)
		return
	}
	defer recv.Close()

	b.metrics.RecordStreamAccepted()
	logger.Info("inbound sub-stream accepted",
		logging.KeyForwardAddr, b.forwardAddr.String())

	for {
		payload, err := recv.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				logger.Info("inbound sub-stream closed by peer")
				b.metrics.RecordPumpTermination(metrics.DirectionInbound, metrics.ReasonEndOfStream)
			case ctx.Err() != nil:
				logger.Info("inbound pump stopped")
				b.metrics.RecordPumpTermination(metrics.DirectionInbound, metrics.ReasonShutdown)
			default:
				logger.Error("sub-stream read failed", logging.KeyError, err)
				b.metrics.RecordPumpTermination(metrics.DirectionInbound, metrics.ReasonReadError)
			}
			return
		}

		if err := target.SendTo(payload, b.forwardAddr); err != nil {
			// Possibly transient (dead target, full socket buffer); keep
			// draining the sub-stream.
			logger.Warn("datagram send failed",
				logging.KeyForwardAddr, b.forwardAddr.String(),
				logging.KeyError, err)
			b.metrics.RecordSendError(metrics.DirectionInbound)
			continue
		}

		b.datagramsIn.Add(1)
		b.bytesIn.Add(uint64(len(payload)))
		b.metrics.RecordForward(metrics.DirectionInbound, len(payload))

		logger.Debug("datagram forwarded", logging.KeyBytes, len(payload))
	}
}
