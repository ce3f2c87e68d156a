package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/lunfardo314/nodexec/api"
	"github.com/lunfardo314/nodexec/global"
	"github.com/lunfardo314/nodexec/util"
)

type (
	environment interface {
		global.Logging
		global.Metrics
		api.NodeReader
	}

	server struct {
		environment
		metrics
	}
)

const TraceTag = "apiServer"

// Attach attaches all query handlers to the table
func Attach(table *api.Table, env environment) error {
	srv := &server{environment: env}
	if err := srv.registerMetrics(); err != nil {
		return err
	}
	return srv.registerHandlers(table)
}

func (srv *server) registerHandlers(table *api.Table) error {
	handlers := []struct {
		path    string
		handler func(http.ResponseWriter, *http.Request)
	}{
		// GET node info
		{api.PathGetNodeInfo, srv.getNodeInfo},
		// GET sync info from the node
		{api.PathGetSyncInfo, srv.getSyncInfo},
		// GET peers info from the node
		{api.PathGetPeersInfo, srv.getPeersInfo},
		// GET tip header of the local chain
		{api.PathGetTip, srv.getTip},
		// GET request format: '/get_header?height=<decimal height>'
		{api.PathGetHeader, srv.getHeader},
		// GET HTML page
		{api.PathDashboard, srv.getDashboard},
	}
	for _, h := range handlers {
		if err := table.AttachFunc(h.path, srv.withMetrics(h.handler)); err != nil {
			return err
		}
	}
	return nil
}

func (srv *server) withMetrics(handler func(http.ResponseWriter, *http.Request)) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		handler(w, r)
		srv.metrics.totalRequests.Inc()
	}
}

func (srv *server) getNodeInfo(w http.ResponseWriter, _ *http.Request) {
	srv.Tracef(TraceTag, "getNodeInfo invoked")
	setHeader(w)

	writeJSON(w, srv.GetNodeInfo())
}

func (srv *server) getSyncInfo(w http.ResponseWriter, _ *http.Request) {
	srv.Tracef(TraceTag, "getSyncInfo invoked")
	setHeader(w)

	writeJSON(w, srv.GetSyncInfo())
}

func (srv *server) getPeersInfo(w http.ResponseWriter, _ *http.Request) {
	srv.Tracef(TraceTag, "getPeersInfo invoked")
	setHeader(w)

	writeJSON(w, srv.GetPeersInfo())
}

func (srv *server) getTip(w http.ResponseWriter, _ *http.Request) {
	srv.Tracef(TraceTag, "getTip invoked")
	setHeader(w)

	var resp *api.Header
	err := util.CatchPanicOrError(func() error {
		resp = api.HeaderFromStore(srv.GetTip())
		return nil
	})
	if err != nil {
		writeErr(w, err.Error())
		return
	}
	writeJSON(w, resp)
}

func (srv *server) getHeader(w http.ResponseWriter, r *http.Request) {
	srv.Tracef(TraceTag, "getHeader invoked")
	setHeader(w)

	lst, ok := r.URL.Query()["height"]
	if !ok || len(lst) != 1 {
		writeErr(w, "wrong parameter 'height' in request 'get_header'")
		return
	}
	height, err := strconv.ParseUint(lst[0], 10, 64)
	if err != nil {
		writeErr(w, fmt.Sprintf("wrong parameter 'height': %v", err))
		return
	}
	hdr, found := srv.GetHeader(height)
	if !found {
		writeErr(w, api.ErrHeaderNotFound)
		return
	}
	writeJSON(w, api.HeaderFromStore(hdr))
}

func writeJSON(w http.ResponseWriter, resp any) {
	respBin, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		writeErr(w, err.Error())
		return
	}
	_, _ = w.Write(respBin)
}

func writeErr(w http.ResponseWriter, errStr string) {
	respBytes, err := json.Marshal(&api.Error{Error: errStr})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(respBytes)
}

func setHeader(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
}
