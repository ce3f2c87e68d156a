package api

import (
	"encoding/json"
	"time"

	"github.com/lunfardo314/nodexec/util"
)

// event types published by the node
const (
	EventPeerConnected    = "peer_connected"
	EventPeerDisconnected = "peer_disconnected"
	EventSeeded           = "seeded"
	EventSynchronized     = "synchronized"
	EventNewTip           = "new_tip"
	EventStopping         = "stopping"
)

// Event is sent to subscribers as JSON text message
type Event struct {
	Type string `json:"type"`
	// unix nano
	Time int64          `json:"time"`
	Data map[string]any `json:"data,omitempty"`
}

func NewEvent(typ string, kv ...any) Event {
	util.Assertf(len(kv)%2 == 0, "NewEvent: even number of key/value arguments expected")
	ret := Event{
		Type: typ,
		Time: time.Now().UnixNano(),
	}
	if len(kv) > 0 {
		ret.Data = make(map[string]any)
		for i := 0; i < len(kv); i += 2 {
			ret.Data[kv[i].(string)] = kv[i+1]
		}
	}
	return ret
}

func (e *Event) Bytes() []byte {
	ret, err := json.Marshal(e)
	util.AssertNoError(err)
	return ret
}
