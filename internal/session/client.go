// Package session implements the Session Client and Session Server: the
// typed request/response layer built on top of internal/codec and
// internal/transport.
package session

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/cofvcs/cof/internal/codec"
	"github.com/cofvcs/cof/internal/transport"
)

// Errors surfaced by Client operations.
var (
	ErrRemoteError = errors.New("remote reported an error")
	ErrNotFound    = errors.New("not_found")
)

// pushKind tags the opaque PUSH_REQUEST payload so the server knows which
// store tier to route it into: the packet model carries no separate field
// for this, so it is the first byte of the payload.
type pushKind byte

const (
	pushKindObject pushKind = iota
	pushKindBlock
)

// Client issues typed requests against a single remote endpoint + repo_path,
// over one UDP socket for its whole lifetime.
type Client struct {
	conn      *transport.Conn
	endpoint  string
	repoPath  string
	sessionID string
	config    ClientConfig
}

// NewClient opens a socket and generates a fresh session_id. Call Close to
// release the socket; this is guaranteed safe even if no requests are ever
// made.
func NewClient(endpoint, repoPath string, config ClientConfig) (*Client, error) {
	conn, err := transport.Open()
	if err != nil {
		return nil, fmt.Errorf("open client socket: %w", err)
	}
	return &Client{
		conn:      conn,
		endpoint:  endpoint,
		repoPath:  repoPath,
		sessionID: uuid.New().String(),
		config:    config,
	}, nil
}

// Close releases the client's socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// SessionID returns the session's random token, unique for the client's
// lifetime.
func (c *Client) SessionID() string {
	return c.sessionID
}

type handshakePayload struct {
	Version string `json:"version"`
	Client  string `json:"client"`
}

type handshakeAckPayload struct {
	Status string `json:"status"`
}

// Handshake sends a HANDSHAKE and reports whether the remote answered with
// a HANDSHAKE_ACK carrying status "ok". Any non-ack response or timeout
// yields false rather than an error, matching spec.md's boolean contract.
func (c *Client) Handshake(ctx context.Context) bool {
	payload, err := json.Marshal(handshakePayload{Version: c.config.ClientVersion, Client: "cof"})
	if err != nil {
		return false
	}
	resp, err := c.exchange(ctx, codec.Handshake, payload)
	if err != nil {
		return false
	}
	var ack handshakeAckPayload
	if err := json.Unmarshal(resp, &ack); err != nil {
		return false
	}
	return ack.Status == "ok"
}

// RequestRefs fetches the remote's branch name -> commit hash mapping. On
// failure it returns an empty map rather than propagating partial state.
func (c *Client) RequestRefs(ctx context.Context) (map[string]string, error) {
	resp, err := c.exchange(ctx, codec.RefRequest, nil)
	if err != nil {
		return map[string]string{}, err
	}
	refs := map[string]string{}
	if err := json.Unmarshal(resp, &refs); err != nil {
		return map[string]string{}, fmt.Errorf("decode refs: %w", err)
	}
	return refs, nil
}

// RequestObject fetches the serialized object stored under hash.
func (c *Client) RequestObject(ctx context.Context, hash string) ([]byte, error) {
	return c.exchange(ctx, codec.ObjectRequest, []byte(hash))
}

// RequestBlock fetches the raw bytes stored under hash.
func (c *Client) RequestBlock(ctx context.Context, hash string) ([]byte, error) {
	return c.exchange(ctx, codec.BlockRequest, []byte(hash))
}

// BlockPush pairs a block's raw bytes with the commit_sequence_hint the
// caller resolved for it (see internal/graphsync.PushBlock, which this
// mirrors at the session layer so this package doesn't need to import
// internal/graphsync just for one struct shape).
type BlockPush struct {
	Data     []byte
	Sequence uint64
}

// PushObjects pushes each hash -> bytes pair as one PUSH_REQUEST: all
// objects first, then all blocks, each group in Go's map iteration order.
// Failure on any single object aborts the whole push.
func (c *Client) PushObjects(ctx context.Context, objects map[string][]byte, blocks map[string]BlockPush) error {
	for hash, data := range objects {
		payload := make([]byte, 0, 1+len(data))
		payload = append(payload, byte(pushKindObject))
		payload = append(payload, data...)
		if _, err := c.exchange(ctx, codec.PushRequest, payload); err != nil {
			return fmt.Errorf("push object %s: %w", hash, err)
		}
	}
	for hash, block := range blocks {
		payload := make([]byte, 0, 1+8+len(block.Data))
		payload = append(payload, byte(pushKindBlock))
		var seq [8]byte
		binary.BigEndian.PutUint64(seq[:], block.Sequence)
		payload = append(payload, seq[:]...)
		payload = append(payload, block.Data...)
		if _, err := c.exchange(ctx, codec.PushRequest, payload); err != nil {
			return fmt.Errorf("push block %s: %w", hash, err)
		}
	}
	return nil
}

// exchange sends one logical request and reassembles the (possibly
// fragmented) response. Fragments share the client's session_id; missing
// fragments are recovered by resending the original request, since the
// server computes responses deterministically from immutable repository
// state and the resend costs nothing but a retry.
func (c *Client) exchange(ctx context.Context, packetType codec.PacketType, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := &codec.Packet{
		Type:         packetType,
		SessionID:    c.sessionID,
		RepoPath:     c.repoPath,
		Sequence:     0,
		TotalPackets: 1,
		Payload:      payload,
	}
	raw, err := codec.Pack(req)
	if err != nil {
		return nil, fmt.Errorf("pack request: %w", err)
	}

	fragments := map[uint32][]byte{}
	var total uint32 = 1

	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.conn.Send(c.endpoint, raw); err != nil {
			return nil, fmt.Errorf("send request: %w", err)
		}

		for uint32(len(fragments)) < total {
			respRaw, _, err := c.conn.Receive(c.config.Timeout)
			if err != nil {
				break
			}
			resp, err := codec.Unpack(respRaw)
			if err != nil {
				continue
			}
			if resp.SessionID != c.sessionID {
				continue
			}
			if resp.Type == codec.Error {
				return nil, fmt.Errorf("%w: %s", ErrRemoteError, resp.Payload)
			}
			total = resp.TotalPackets
			if total == 0 {
				total = 1
			}
			if _, ok := fragments[resp.Sequence]; !ok {
				fragments[resp.Sequence] = resp.Payload
			}
		}

		if uint32(len(fragments)) >= total {
			return reassemble(fragments, total), nil
		}
	}

	return nil, fmt.Errorf("%w: after %d attempts", transport.ErrTimeoutExceeded, c.config.MaxRetries)
}

func reassemble(fragments map[uint32][]byte, total uint32) []byte {
	buf := make([]byte, 0)
	for i := uint32(0); i < total; i++ {
		buf = append(buf, fragments[i]...)
	}
	return buf
}
