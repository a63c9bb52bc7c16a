package session

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"

	"github.com/cofvcs/cof/internal/codec"
	"github.com/cofvcs/cof/internal/graphsync"
	"github.com/cofvcs/cof/internal/log"
	"github.com/cofvcs/cof/internal/objmodel"
	"github.com/cofvcs/cof/internal/transport"
)

// RepoOpener resolves a repo_path (relative to a server's root_dir) to the
// Store backing it, or an error if it isn't a valid repository.
type RepoOpener func(repoPath string) (graphsync.Store, error)

// Server is a stateless per-packet dispatcher. Each inbound packet spawns an
// independent handler goroutine; the only resource shared across them is the
// socket, and sends to it are atomic per datagram.
type Server struct {
	conn   *transport.Conn
	config ServerConfig
	opener RepoOpener

	wg sync.WaitGroup
}

// NewServer binds a UDP socket at config.ListenAddr.
func NewServer(config ServerConfig, opener RepoOpener) (*Server, error) {
	conn, err := transport.Listen(config.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("bind server socket: %w", err)
	}
	return &Server{conn: conn, config: config, opener: opener}, nil
}

// Close stops accepting new packets and waits for in-flight handlers to
// finish.
func (s *Server) Close() error {
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

// Serve runs the accept loop until the socket is closed. cmd/cofd runs it on
// its main goroutine and calls Close from its signal handler.
func (s *Server) Serve() error {
	for {
		raw, addr, err := s.conn.Receive(0)
		if err != nil {
			if errors.Is(err, transport.ErrSocketUninitialized) {
				return nil
			}
			log.Error().Err(err).Msg("server receive error")
			continue
		}
		s.wg.Add(1)
		go func(raw []byte, addr *net.UDPAddr) {
			defer s.wg.Done()
			s.handlePacket(raw, addr)
		}(raw, addr)
	}
}

func (s *Server) handlePacket(raw []byte, addr *net.UDPAddr) {
	packet, err := codec.Unpack(raw)
	if err != nil {
		log.Error().Str("addr", addr.String()).Err(err).Msg("discarding malformed packet")
		return
	}

	resp := s.process(packet)
	s.sendResponse(addr, resp)
}

func (s *Server) sendResponse(addr *net.UDPAddr, resp *codec.Packet) {
	fragments := fragmentPayload(resp.Payload, s.config.PacketSize)
	packetType := resp.Type
	if len(fragments) > 1 {
		packetType = codec.Data
	}
	for i, fragment := range fragments {
		p := &codec.Packet{
			Type:         packetType,
			SessionID:    resp.SessionID,
			RepoPath:     resp.RepoPath,
			Sequence:     uint32(i),
			TotalPackets: uint32(len(fragments)),
			Payload:      fragment,
		}
		raw, err := codec.Pack(p)
		if err != nil {
			log.Error().Str("addr", addr.String()).Err(err).Msg("pack response failed")
			return
		}
		if err := s.conn.Send(addr.String(), raw); err != nil {
			log.Error().Str("addr", addr.String()).Err(err).Msg("send response failed")
			return
		}
	}
}

// fragmentPayload splits payload into chunks no larger than packetSize,
// always returning at least one (possibly empty) chunk.
func fragmentPayload(payload []byte, packetSize int) [][]byte {
	if packetSize <= 0 {
		packetSize = transport.MaxPacketSize
	}
	if len(payload) <= packetSize {
		return [][]byte{payload}
	}
	var chunks [][]byte
	for offset := 0; offset < len(payload); offset += packetSize {
		end := offset + packetSize
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[offset:end])
	}
	return chunks
}

func (s *Server) process(packet *codec.Packet) *codec.Packet {
	errPacket := func(format string, args ...any) *codec.Packet {
		return &codec.Packet{
			Type:         codec.Error,
			SessionID:    packet.SessionID,
			RepoPath:     packet.RepoPath,
			Sequence:     0,
			TotalPackets: 1,
			Payload:      []byte(fmt.Sprintf(format, args...)),
		}
	}

	store, err := s.opener(filepath.Clean(packet.RepoPath))
	if err != nil {
		return errPacket("Repository not found at %s", packet.RepoPath)
	}

	switch packet.Type {
	case codec.Handshake:
		payload, _ := json.Marshal(handshakeAckPayload{Status: "ok"})
		return &codec.Packet{Type: codec.HandshakeAck, SessionID: packet.SessionID, RepoPath: packet.RepoPath, Sequence: 0, TotalPackets: 1, Payload: payload}

	case codec.RefRequest:
		refs, err := store.ListRefs()
		if err != nil {
			return errPacket("%v", err)
		}
		payload, err := json.Marshal(refs)
		if err != nil {
			return errPacket("%v", err)
		}
		return &codec.Packet{Type: codec.RefResponse, SessionID: packet.SessionID, RepoPath: packet.RepoPath, Sequence: 0, TotalPackets: 1, Payload: payload}

	case codec.ObjectRequest:
		hash, err := objmodel.ParseHash(string(packet.Payload))
		if err != nil {
			return errPacket("Object %s not found", packet.Payload)
		}
		data, err := store.GetObject(hash)
		if err != nil {
			return errPacket("Object %s not found", hash)
		}
		return &codec.Packet{Type: codec.ObjectResponse, SessionID: packet.SessionID, RepoPath: packet.RepoPath, Sequence: 0, TotalPackets: 1, Payload: data}

	case codec.BlockRequest:
		hash, err := objmodel.ParseHash(string(packet.Payload))
		if err != nil {
			return errPacket("Block %s not found", packet.Payload)
		}
		data, err := store.GetBlock(hash)
		if err != nil {
			return errPacket("Block %s not found", hash)
		}
		return &codec.Packet{Type: codec.BlockResponse, SessionID: packet.SessionID, RepoPath: packet.RepoPath, Sequence: 0, TotalPackets: 1, Payload: data}

	case codec.PushRequest:
		if err := s.acceptPush(store, packet.Payload); err != nil {
			return errPacket("%v", err)
		}
		payload, _ := json.Marshal(map[string]string{"status": "received"})
		return &codec.Packet{Type: codec.PushResponse, SessionID: packet.SessionID, RepoPath: packet.RepoPath, Sequence: 0, TotalPackets: 1, Payload: payload}

	default:
		return errPacket("Unknown packet type: %d", packet.Type)
	}
}

func (s *Server) acceptPush(store graphsync.Store, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("empty push payload")
	}
	kind := pushKind(payload[0])
	rest := payload[1:]

	switch kind {
	case pushKindObject:
		return store.PutObject(objmodel.HashBytes(rest), rest)
	case pushKindBlock:
		if len(rest) < 8 {
			return fmt.Errorf("push block payload too small for commit_sequence_hint")
		}
		sequence := binary.BigEndian.Uint64(rest[:8])
		data := rest[8:]
		_, err := store.PutBlock(data, sequence)
		return err
	default:
		return fmt.Errorf("unknown push kind %d", kind)
	}
}
