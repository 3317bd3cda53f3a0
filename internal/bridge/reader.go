package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/project-steve/gs-bridge/internal/gs"
	"github.com/project-steve/gs-bridge/internal/metrics"
)

// startReader pumps length-prefixed frames from the client into the core
// event channel. The detach event is queued before the session is marked
// closed so the accept loop cannot race the next attach past it.
func (b *Bridge) startReader(ctx context.Context, sess *session) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			select {
			case b.events <- sessionEvent{kind: evDetach, sess: sess}:
			case <-ctx.Done():
			}
			sess.close()
			_ = sess.conn.Close()
			b.totalDisconnected.Add(1)
			sess.logger.Info("client_disconnected")
		}()
		for {
			msg, err := b.codec.Decode(sess.conn)
			if err != nil {
				switch {
				case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
					// Orderly close.
				case errors.Is(err, gs.ErrInvalidLength), errors.Is(err, gs.ErrTruncatedFrame):
					sess.logger.Warn("ctl_frame_error", "error", err)
				default:
					wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
					metrics.IncError(mapErrToMetric(wrap))
					b.setError(wrap)
					sess.logger.Error("ctl_read_error", "error", wrap)
				}
				return
			}
			metrics.IncCtlRx()
			select {
			case b.events <- sessionEvent{kind: evMessage, sess: sess, msg: msg}:
			case <-sess.closed:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}
