// SPDX-License-Identifier: GPL-3.0-or-later

package upstream

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// Exchange sends query over conn and returns the reply with the same ID.
//
// Replies carrying a different ID are late answers to queries that
// previously timed out on the same conn and are discarded. The deadline
// bounds the whole exchange.
func Exchange(conn *dns.Conn, query *dns.Msg, deadline time.Time) (*dns.Msg, error) {
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	if err := conn.WriteMsg(query); err != nil {
		return nil, err
	}
	for {
		resp, err := conn.ReadMsg()
		var netErr net.Error
		switch {
		case errors.As(err, &netErr):
			return nil, err
		case err != nil:
			return nil, fmt.Errorf("%w: %w", ErrCannotUnmarshalMessage, err)
		case resp.Id != query.Id:
			continue
		default:
			return resp, nil
		}
	}
}
