package store

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/lunfardo314/nodexec/util"
	"golang.org/x/crypto/blake2b"
)

const HashLength = 32

type (
	Hash [HashLength]byte

	// Header is the unit of the chain kept in the store and exchanged between peers
	Header struct {
		Height uint64
		Parent Hash
		Time   int64
		Data   []byte
	}
)

const headerFixedLength = 8 + HashLength + 8 + 2

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) Short() string {
	return hex.EncodeToString(h[:4]) + ".."
}

func HashFromBytes(data []byte) (ret Hash, err error) {
	if len(data) != HashLength {
		return ret, fmt.Errorf("HashFromBytes: wrong data length %d", len(data))
	}
	copy(ret[:], data)
	return
}

// GenesisHeader is deterministic for the network name
func GenesisHeader(networkName string) *Header {
	return &Header{
		Data: []byte(networkName),
	}
}

func NewHeader(parent *Header, data []byte, t time.Time) *Header {
	return &Header{
		Height: parent.Height + 1,
		Parent: parent.Hash(),
		Time:   t.UnixNano(),
		Data:   data,
	}
}

func (h *Header) Bytes() []byte {
	util.Assertf(len(h.Data) <= math.MaxUint16, "header data too long")

	var buf bytes.Buffer
	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], h.Height)
	buf.Write(u64[:])
	buf.Write(h.Parent[:])
	binary.BigEndian.PutUint64(u64[:], uint64(h.Time))
	buf.Write(u64[:])
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], uint16(len(h.Data)))
	buf.Write(u16[:])
	buf.Write(h.Data)
	return buf.Bytes()
}

func HeaderFromBytes(data []byte) (*Header, error) {
	if len(data) < headerFixedLength {
		return nil, fmt.Errorf("HeaderFromBytes: data too short")
	}
	ret := &Header{
		Height: binary.BigEndian.Uint64(data[:8]),
		Time:   int64(binary.BigEndian.Uint64(data[8+HashLength : 16+HashLength])),
	}
	copy(ret.Parent[:], data[8:8+HashLength])
	size := int(binary.BigEndian.Uint16(data[16+HashLength : headerFixedLength]))
	if len(data) != headerFixedLength+size {
		return nil, fmt.Errorf("HeaderFromBytes: wrong data length")
	}
	if size > 0 {
		ret.Data = bytes.Clone(data[headerFixedLength:])
	}
	return ret, nil
}

func (h *Header) Hash() Hash {
	return blake2b.Sum256(h.Bytes())
}

func (h *Header) String() string {
	return fmt.Sprintf("#%s (%s)", util.GoTh(h.Height), h.Hash().Short())
}
