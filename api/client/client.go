package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lunfardo314/nodexec/api"
	"github.com/lunfardo314/nodexec/global"
	"github.com/lunfardo314/nodexec/store"
)

const apiDefaultClientTimeout = 7 * time.Second

type APIClient struct {
	c      http.Client
	prefix string
}

func New(serverURL string, timeout ...time.Duration) *APIClient {
	var to time.Duration
	if len(timeout) > 0 {
		to = timeout[0]
	} else {
		to = apiDefaultClientTimeout
	}
	return &APIClient{
		c:      http.Client{Timeout: to},
		prefix: serverURL,
	}
}

func (c *APIClient) GetNodeInfo() (*global.NodeInfo, error) {
	body, err := c.getBody(api.PathGetNodeInfo)
	if err != nil {
		return nil, err
	}
	return global.NodeInfoFromBytes(body)
}

func (c *APIClient) GetSyncInfo() (*api.SyncInfo, error) {
	body, err := c.getBody(api.PathGetSyncInfo)
	if err != nil {
		return nil, err
	}
	var res api.SyncInfo
	if err = json.Unmarshal(body, &res); err != nil {
		return nil, err
	}
	if res.Error.Error != "" {
		return nil, fmt.Errorf("GetSyncInfo: from server: %s", res.Error.Error)
	}
	return &res, nil
}

func (c *APIClient) GetPeersInfo() (*api.PeersInfo, error) {
	body, err := c.getBody(api.PathGetPeersInfo)
	if err != nil {
		return nil, err
	}
	var res api.PeersInfo
	if err = json.Unmarshal(body, &res); err != nil {
		return nil, err
	}
	if res.Error.Error != "" {
		return nil, fmt.Errorf("GetPeersInfo: from server: %s", res.Error.Error)
	}
	return &res, nil
}

// GetTip retrieves tip header of the node and checks its hash
func (c *APIClient) GetTip() (*store.Header, error) {
	return c.getHeader(api.PathGetTip)
}

func (c *APIClient) GetHeader(height uint64) (*store.Header, error) {
	return c.getHeader(fmt.Sprintf(api.PathGetHeader+"?height=%d", height))
}

func (c *APIClient) getHeader(path string) (*store.Header, error) {
	body, err := c.getBody(path)
	if err != nil {
		return nil, err
	}
	var res api.Header
	if err = json.Unmarshal(body, &res); err != nil {
		return nil, err
	}
	if res.Error.Error != "" {
		return nil, fmt.Errorf("from server: %s", res.Error.Error)
	}
	ret, err := res.Decode()
	if err != nil {
		return nil, fmt.Errorf("error while decoding header from server: %w", err)
	}
	return ret, nil
}

func (c *APIClient) getBody(path string) ([]byte, error) {
	url := c.prefix + path
	resp, err := c.c.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s", path, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return body, nil
}
