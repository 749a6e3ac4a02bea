package satellite

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/skypro1111/voice-satellite/internal/metrics"
	"github.com/skypro1111/voice-satellite/internal/protocol"
)

const writeTimeout = 10 * time.Second

// connection is one hub session. Writes may come from the event loop and the audio goroutine.
type connection struct {
	id          uint64
	conn        net.Conn
	reader      *bufio.Reader
	remote      string
	connectedAt time.Time
	metrics     *metrics.Metrics
	logger      *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    bool
}

func newConnection(id uint64, conn net.Conn, m *metrics.Metrics, logger *slog.Logger) *connection {
	remote := "unknown"
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	return &connection{
		id:          id,
		conn:        conn,
		reader:      bufio.NewReaderSize(conn, 64*1024),
		remote:      remote,
		connectedAt: time.Now(),
		metrics:     m,
		logger:      logger.With(slog.Uint64("conn_id", id), slog.String("remote", remote)),
	}
}

// send writes messages as consecutive frames in one write
func (c *connection) send(msgs ...protocol.Message) error {
	var buf []byte
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		buf = append(buf, protocol.EncodeMessage(msg)...)
	}
	if len(buf) == 0 {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return fmt.Errorf("connection %d closed", c.id)
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("failed to write to hub: %w", err)
	}

	for _, msg := range msgs {
		if msg != nil {
			c.metrics.RecordMessageSent(messageName(msg))
		}
	}
	return nil
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.closed = true
		c.writeMu.Unlock()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug("Error closing hub connection", slog.String("error", err.Error()))
		}
	})
}

// messageName returns the message type name for logs and metric labels
func messageName(msg protocol.Message) string {
	if u, ok := msg.(*protocol.Unknown); ok {
		return fmt.Sprintf("Unknown(%d)", u.Type)
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", msg), "*protocol.")
}
