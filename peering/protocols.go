package peering

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/lunfardo314/nodexec/store"
)

// tip protocol: requester opens stream, responder writes one frame with
// genesis hash, tip height and tip hash.
// headers protocol: requester writes frame with starting height and max number of headers,
// responder writes one frame with consecutive headers, each prefixed with 2 bytes of length

const (
	ProtocolTip     = protocol.ID(protocolPrefix + "/tip/1.0.0")
	ProtocolHeaders = protocol.ID(protocolPrefix + "/headers/1.0.0")

	MaxHeadersPerRequest = 500
	streamTimeout        = 10 * time.Second
	tipMsgLength         = store.HashLength + 8 + store.HashLength
)

func (ps *Peers) registerProtocols() {
	ps.host.SetStreamHandler(ProtocolTip, ps.tipStreamHandler)
	ps.host.SetStreamHandler(ProtocolHeaders, ps.headersStreamHandler)
}

func encodeTip(genesis store.Hash, tip *store.Header) []byte {
	var buf bytes.Buffer
	buf.Write(genesis[:])
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], tip.Height)
	buf.Write(h[:])
	tipHash := tip.Hash()
	buf.Write(tipHash[:])
	return buf.Bytes()
}

func decodeTip(data []byte) (*PeerTip, error) {
	if len(data) != tipMsgLength {
		return nil, fmt.Errorf("wrong tip message length %d", len(data))
	}
	ret := &PeerTip{
		Height: binary.BigEndian.Uint64(data[store.HashLength : store.HashLength+8]),
		When:   time.Now(),
	}
	copy(ret.Genesis[:], data[:store.HashLength])
	copy(ret.Hash[:], data[store.HashLength+8:])
	return ret, nil
}

func encodeHeadersRequest(from uint64, maxHeaders int) []byte {
	var ret [10]byte
	binary.BigEndian.PutUint64(ret[:8], from)
	binary.BigEndian.PutUint16(ret[8:], uint16(maxHeaders))
	return ret[:]
}

func decodeHeadersRequest(data []byte) (uint64, int, error) {
	if len(data) != 10 {
		return 0, 0, fmt.Errorf("wrong headers request length %d", len(data))
	}
	maxHeaders := int(binary.BigEndian.Uint16(data[8:]))
	if maxHeaders > MaxHeadersPerRequest {
		maxHeaders = MaxHeadersPerRequest
	}
	return binary.BigEndian.Uint64(data[:8]), maxHeaders, nil
}

func encodeHeaders(headers []*store.Header) []byte {
	var buf bytes.Buffer
	var size [2]byte
	for _, h := range headers {
		hBin := h.Bytes()
		if buf.Len()+len(hBin)+2 > MaxPayloadSize {
			break
		}
		binary.BigEndian.PutUint16(size[:], uint16(len(hBin)))
		buf.Write(size[:])
		buf.Write(hBin)
	}
	return buf.Bytes()
}

func decodeHeaders(data []byte) ([]*store.Header, error) {
	ret := make([]*store.Header, 0)
	for len(data) > 0 {
		if len(data) < 2 {
			return nil, fmt.Errorf("wrong headers message")
		}
		size := int(binary.BigEndian.Uint16(data[:2]))
		if len(data) < 2+size {
			return nil, fmt.Errorf("wrong headers message")
		}
		h, err := store.HeaderFromBytes(data[2 : 2+size])
		if err != nil {
			return nil, err
		}
		ret = append(ret, h)
		data = data[2+size:]
	}
	return ret, nil
}

func (ps *Peers) tipStreamHandler(stream network.Stream) {
	ps.inMsgCounter.Inc()
	defer func() { _ = stream.Close() }()

	_ = stream.SetDeadline(time.Now().Add(streamTimeout))
	if err := writeFrame(stream, encodeTip(ps.chain.GenesisHash(), ps.chain.Tip())); err != nil {
		ps.Log().Errorf("[peering] error while sending tip to %s: %v", ShortPeerIDString(stream.Conn().RemotePeer()), err)
		_ = stream.Reset()
	}
}

func (ps *Peers) headersStreamHandler(stream network.Stream) {
	ps.inMsgCounter.Inc()
	defer func() { _ = stream.Close() }()

	id := stream.Conn().RemotePeer()
	_ = stream.SetDeadline(time.Now().Add(streamTimeout))
	msgData, err := readFrame(stream)
	if err != nil {
		ps.Log().Errorf("[peering] error while reading message from peer %s: %v", ShortPeerIDString(id), err)
		_ = stream.Reset()
		return
	}
	from, maxHeaders, err := decodeHeadersRequest(msgData)
	if err != nil {
		ps.Log().Errorf("[peering] error while decoding message from peer %s: %v", ShortPeerIDString(id), err)
		_ = stream.Reset()
		return
	}
	headers := ps.chain.HeadersFrom(from, maxHeaders)
	ps.Tracef(TraceTag, "sending %d headers from height %d to %s", len(headers), from, id.String)
	if err = writeFrame(stream, encodeHeaders(headers)); err != nil {
		ps.Log().Errorf("[peering] error while sending headers to %s: %v", ShortPeerIDString(id), err)
		_ = stream.Reset()
	}
}

// QueryTip asks peer for its tip. Tip is remembered as the last known tip of the peer
func (ps *Peers) QueryTip(ctx context.Context, id peer.ID) (*PeerTip, error) {
	ctx, cancel := context.WithTimeout(ctx, streamTimeout)
	defer cancel()

	ps.outMsgCounter.Inc()
	stream, err := ps.host.NewStream(ctx, id, ProtocolTip)
	if err != nil {
		return nil, err
	}
	defer func() { _ = stream.Close() }()

	_ = stream.SetDeadline(time.Now().Add(streamTimeout))
	msgData, err := readFrame(stream)
	if err != nil {
		_ = stream.Reset()
		return nil, err
	}
	ret, err := decodeTip(msgData)
	if err != nil {
		return nil, err
	}
	if p := ps.getPeer(id); p != nil {
		p.setTip(ret)
	}
	return ret, nil
}

// PullHeaders requests up to maxHeaders consecutive headers starting from the height
func (ps *Peers) PullHeaders(ctx context.Context, id peer.ID, from uint64, maxHeaders int) ([]*store.Header, error) {
	if maxHeaders <= 0 || maxHeaders > MaxHeadersPerRequest {
		maxHeaders = MaxHeadersPerRequest
	}
	ctx, cancel := context.WithTimeout(ctx, streamTimeout)
	defer cancel()

	ps.outMsgCounter.Inc()
	stream, err := ps.host.NewStream(ctx, id, ProtocolHeaders)
	if err != nil {
		return nil, err
	}
	defer func() { _ = stream.Close() }()

	_ = stream.SetDeadline(time.Now().Add(streamTimeout))
	if err = writeFrame(stream, encodeHeadersRequest(from, maxHeaders)); err != nil {
		_ = stream.Reset()
		return nil, err
	}
	msgData, err := readFrame(stream)
	if err != nil {
		_ = stream.Reset()
		return nil, err
	}
	return decodeHeaders(msgData)
}
