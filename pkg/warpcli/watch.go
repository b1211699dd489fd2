package warpcli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	cws "github.com/coder/websocket"
	"github.com/warpdl/warpmaster/common"
	"github.com/warpdl/warpmaster/pkg/warpflow"
)

// notification is the subset of a JSON-RPC message Watch needs.
type notification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Watch opens the websocket endpoint and calls fn for every task.event
// push until ctx ends or the connection drops. It returns nil when ctx is
// canceled.
func (c *Client) Watch(ctx context.Context, fn func(warpflow.Event)) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/jsonrpc/ws"
	opts := &cws.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + c.secret}},
	}
	if c.hc != nil {
		opts.HTTPClient = c.hc
	}
	conn, resp, err := cws.Dial(ctx, wsURL, opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		return fmt.Errorf("watch: %w", err)
	}
	defer conn.Close(cws.StatusNormalClosure, "")

	hello, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": common.MethodVersion})
	if err := conn.Write(ctx, cws.MessageText, hello); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("watch: %w", err)
		}
		var msg notification
		if json.Unmarshal(data, &msg) != nil || msg.Method != common.EventMethod {
			continue
		}
		var ev warpflow.Event
		if err := json.Unmarshal(msg.Params, &ev); err != nil {
			continue
		}
		fn(ev)
	}
}
