package nodeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// wire request/response operation names. Kept as constants in the teacher's
// style (see the retired bd RPC protocol's Op* constants) so call sites
// never hand-type a method name.
const (
	opSubscribeBlockAdded    = "subscribe_block_added"
	opSubscribeVirtualChain  = "subscribe_virtual_chain_changed"
	opGetBlock               = "get_block"
	opGetBlocksFrom          = "get_blocks_from"
	opGetVirtualChainFrom    = "get_virtual_chain_from"
	opGetBlockDAGInfo        = "get_block_dag_info"

	opNotifyBlockAdded       = "notify_block_added"
	opNotifyVirtualChain     = "notify_virtual_chain_changed"
)

// wireRequest is the envelope sent to the node.
type wireRequest struct {
	ID        string          `json:"id"`
	Operation string          `json:"operation"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// wireResponse is the envelope the node sends back. Unsolicited messages
// (subscription push notifications) carry Operation but no matching ID.
type wireResponse struct {
	ID        string          `json:"id,omitempty"`
	Operation string          `json:"operation,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// WSClient implements Client over a JSON-RPC-over-websocket transport,
// the wire shape Kaspa nodes expose alongside their gRPC surface.
type WSClient struct {
	url     string
	opts    Options
	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  uint64
	pending map[string]chan wireResponse

	blockAddedCh chan string
	vcCh         chan VcUpdate

	closed atomic.Bool
	closeCh chan struct{}
}

// Dial opens the websocket connection in a single attempt (no retry) and
// starts the read loop, which reconnects with backoff if the connection
// later drops. The returned Client is ready for use.
func Dial(ctx context.Context, url string, opts Options) (*WSClient, error) {
	c := &WSClient{
		url:     url,
		opts:    opts,
		pending: make(map[string]chan wireResponse),
		closeCh: make(chan struct{}),
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

func (c *WSClient) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return &Error{Kind: Transient, Err: fmt.Errorf("dial %s: %w", c.url, err)}
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// reconnect retries with exponential backoff (per spec §4.1: "retries
// transient failures with exponential backoff; on unrecoverable disconnect
// it signals the pipeline to pause, reconnects, and resumes"). Returns
// FatalDisconnect only if opts.MaxElapsed is nonzero and exhausted.
func (c *WSClient) reconnect(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.opts.MaxElapsed

	op := func() error {
		return c.connect(ctx)
	}

	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if err != nil {
		return &Error{Kind: FatalDisconnect, Err: err}
	}
	return nil
}

func (c *WSClient) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		var resp wireResponse
		err := conn.ReadJSON(&resp)
		if err != nil {
			if c.closed.Load() {
				return
			}
			// Connection dropped: attempt to reconnect forever (or up to
			// opts.MaxElapsed) and resume reading. Pending requests time out
			// on their own context and the subscription channels simply stall
			// until reconnect succeeds, mirroring the gap-fill-on-reconnect
			// behavior described in spec §5 Backpressure.
			if reconnErr := c.reconnect(context.Background()); reconnErr != nil {
				c.failAllPending(reconnErr)
				return
			}
			continue
		}

		if resp.ID != "" {
			c.mu.Lock()
			ch, ok := c.pending[resp.ID]
			if ok {
				delete(c.pending, resp.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- resp
			}
			continue
		}

		switch resp.Operation {
		case opNotifyBlockAdded:
			var hash string
			if err := json.Unmarshal(resp.Result, &hash); err == nil && c.blockAddedCh != nil {
				select {
				case c.blockAddedCh <- hash:
				case <-c.closeCh:
					return
				}
			}
		case opNotifyVirtualChain:
			var update VcUpdate
			if err := json.Unmarshal(resp.Result, &update); err == nil && c.vcCh != nil {
				select {
				case c.vcCh <- update:
				case <-c.closeCh:
					return
				}
			}
		}
	}
}

func (c *WSClient) failAllPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- wireResponse{Error: err.Error()}
		delete(c.pending, id)
	}
}

func (c *WSClient) call(ctx context.Context, operation string, params, out interface{}) error {
	id := fmt.Sprintf("%d", atomic.AddUint64(&c.nextID, 1))

	paramBytes, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	respCh := make(chan wireResponse, 1)
	c.mu.Lock()
	c.pending[id] = respCh
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return &Error{Kind: Transient, Err: fmt.Errorf("not connected")}
	}

	req := wireRequest{ID: id, Operation: operation, Params: paramBytes}
	if err := conn.WriteJSON(req); err != nil {
		return &Error{Kind: Transient, Err: fmt.Errorf("write %s: %w", operation, err)}
	}

	timeout := c.opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	select {
	case resp := <-respCh:
		if resp.Error != "" {
			return classifyErr(resp.Error)
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(resp.Result, out)
	case <-time.After(timeout):
		return &Error{Kind: Transient, Err: fmt.Errorf("%s timed out after %s", operation, timeout)}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func classifyErr(msg string) error {
	switch msg {
	case "not_found":
		return &Error{Kind: NotFound, Err: fmt.Errorf("%s", msg)}
	case "pruned_below":
		return &Error{Kind: PrunedBelow, Err: fmt.Errorf("%s", msg)}
	default:
		return &Error{Kind: Transient, Err: fmt.Errorf("%s", msg)}
	}
}

// SubscribeBlockAdded implements Client.
func (c *WSClient) SubscribeBlockAdded(ctx context.Context) (<-chan string, error) {
	c.blockAddedCh = make(chan string, 256)
	if err := c.call(ctx, opSubscribeBlockAdded, nil, nil); err != nil {
		return nil, err
	}
	return c.blockAddedCh, nil
}

// SubscribeVirtualChainChanged implements Client.
func (c *WSClient) SubscribeVirtualChainChanged(ctx context.Context, includeAcceptedTx bool) (<-chan VcUpdate, error) {
	c.vcCh = make(chan VcUpdate, 64)
	params := map[string]bool{"include_accepted_tx": includeAcceptedTx}
	if err := c.call(ctx, opSubscribeVirtualChain, params, nil); err != nil {
		return nil, err
	}
	return c.vcCh, nil
}

// GetBlock implements Client.
func (c *WSClient) GetBlock(ctx context.Context, hash string, includeTx bool) (*Block, error) {
	params := map[string]interface{}{
		"hash": hash, "include_transactions": includeTx, "include_seqcom": c.opts.IncludeSeqCom,
	}
	var block Block
	if err := c.call(ctx, opGetBlock, params, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// GetBlocksFrom implements Client.
func (c *WSClient) GetBlocksFrom(ctx context.Context, lowHash string) ([]*Block, error) {
	params := map[string]interface{}{"low_hash": lowHash, "include_seqcom": c.opts.IncludeSeqCom}
	var blocks []*Block
	if err := c.call(ctx, opGetBlocksFrom, params, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

// GetVirtualChainFrom implements Client.
func (c *WSClient) GetVirtualChainFrom(ctx context.Context, lowHash string, includeAcceptedTx bool) (*VcUpdate, error) {
	params := map[string]interface{}{"low_hash": lowHash, "include_accepted_tx": includeAcceptedTx}
	var update VcUpdate
	if err := c.call(ctx, opGetVirtualChainFrom, params, &update); err != nil {
		return nil, err
	}
	return &update, nil
}

// GetBlockDAGInfo implements Client.
func (c *WSClient) GetBlockDAGInfo(ctx context.Context) (*DagInfo, error) {
	var info DagInfo
	if err := c.call(ctx, opGetBlockDAGInfo, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Close implements Client.
func (c *WSClient) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.closeCh)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
