package global

import (
	"encoding/json"

	"github.com/lunfardo314/nodexec/util"
	"github.com/lunfardo314/nodexec/util/lines"
)

type NodeInfo struct {
	Network string `json:"network"`
	// libp2p host ID, empty until the peering host is started
	ID        string `json:"id"`
	Version   string `json:"version"`
	NumPeers  uint16 `json:"num_peers"`
	TipHeight uint64 `json:"tip_height"`
	Seeded    bool   `json:"seeded"`
	Synced    bool   `json:"synced"`
	UptimeSec uint64 `json:"uptime_sec"`
}

func (ni *NodeInfo) Bytes() []byte {
	ret, err := json.Marshal(ni)
	util.AssertNoError(err)
	return ret
}

func NodeInfoFromBytes(data []byte) (*NodeInfo, error) {
	var ret NodeInfo
	if err := json.Unmarshal(data, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (ni *NodeInfo) Lines(prefix ...string) *lines.Lines {
	ret := lines.New(prefix...)
	ret.Add("Node info:").
		Add("   network: '%s'", ni.Network).
		Add("   host ID: %s", ni.ID).
		Add("   version: %s", ni.Version).
		Add("   peers: %d", ni.NumPeers).
		Add("   tip height: %s", util.GoTh(ni.TipHeight)).
		Add("   seeded: %v, synced: %v", ni.Seeded, ni.Synced).
		Add("   uptime: %d sec", ni.UptimeSec)
	return ret
}
