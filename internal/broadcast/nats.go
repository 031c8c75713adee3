package broadcast

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSRelay republishes hub messages on subjects of the form
// <prefix>.<eventID>.<type> for consumers outside this process.
type NATSRelay struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSRelay(conn *nats.Conn, prefix string) *NATSRelay {
	if prefix == "" {
		prefix = "livequiz"
	}
	return &NATSRelay{conn: conn, prefix: prefix}
}

func (r *NATSRelay) Subject(eventID string, kind Kind) string {
	return fmt.Sprintf("%s.%s.%s", r.prefix, eventID, kind)
}

func (r *NATSRelay) Relay(msg Message, data []byte) error {
	return r.conn.Publish(r.Subject(msg.EventID, msg.Type), data)
}
