package bridge

import (
	"context"
	"fmt"

	"github.com/project-steve/gs-bridge/internal/metrics"
)

// startWriter drains the session's outbound queue onto the connection.
// A write error tears the session down; the reader notices the closed
// connection and emits the detach.
func (b *Bridge) startWriter(ctx context.Context, sess *session) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case msg := <-sess.out:
				if _, err := b.codec.EncodeTo(sess.conn, msg); err != nil {
					wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
					metrics.IncError(mapErrToMetric(wrap))
					b.setError(wrap)
					sess.logger.Error("ctl_write_error", "error", wrap)
					sess.close()
					_ = sess.conn.Close()
					return
				}
				metrics.IncCtlTx()
			case <-sess.closed:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}
