package server

import (
	"html/template"
	"net/http"
)

var dashboardTemplate = template.Must(template.New("dashboard").Parse(dashboardHTML))

func (srv *server) getDashboard(w http.ResponseWriter, _ *http.Request) {
	ni := srv.GetNodeInfo()
	data := struct {
		Network string
		Version string
	}{
		Network: ni.Network,
		Version: ni.Version,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTemplate.Execute(w, data); err != nil {
		srv.Log().Errorf("[apiServer] dashboard: %v", err)
	}
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Node dashboard: {{.Network}}</title>
    <link rel="icon" href="data:,">
    <style>
        ul {
            list-style-type: none;
            padding: 0;
        }
        li {
            background-color: #f0f0f0;
            margin: 10px 0;
            padding: 10px;
            border-radius: 2px;
            font-family: Arial, sans-serif;
        }
        .info-row {
            display: flex;
            gap: 10px;
            margin: 5px 0;
            padding: 5px;
            background-color: #f8f9fa;
            border: 1px solid #ddd;
            border-radius: 5px;
        }
        .label {
            font-weight: bold;
            width: 150px;
        }
    </style>
</head>
<body>
    <h1>Node dashboard</h1>
    <p>network: {{.Network}}, version: {{.Version}}</p>
    <div id="node-info"><p>Loading node info...</p></div>
    <div id="sync-info"><p>Loading sync info...</p></div>
    <div id="peers-info"><p>Loading peers info...</p></div>

    <script>
        const pollingPeriod = 5000  // ms

        function row(label, value) {
            return '<div class="info-row"><span class="label">' + label + ':</span><span>' + value + '</span></div>'
        }
        function convertTimestamp(ts) {
            const date = new Date(ts / 1e6)
            return date.toLocaleDateString() + ' ' + date.toLocaleTimeString()
        }
        async function fetchJSON(path) {
            const response = await fetch(path)
            return response.json()
        }
        async function updateNodeInfo() {
            try {
                const ni = await fetchJSON('/api/v1/get_node_info')
                document.getElementById('node-info').innerHTML = '<h2>Node</h2>' +
                    row('ID', ni.id) +
                    row('Uptime (sec)', ni.uptime_sec) +
                    row('Peers', ni.num_peers) +
                    row('Tip height', ni.tip_height) +
                    row('Seeded', ni.seeded) +
                    row('Synced', ni.synced)
            } catch (error) {
                console.error('Error fetching node info:', error)
            }
        }
        async function updateSyncInfo() {
            try {
                const si = await fetchJSON('/api/v1/get_sync_info')
                if (si.error) {
                    document.getElementById('sync-info').innerHTML = '<h2>Sync</h2>' + row('Error', si.error)
                    return
                }
                let html = '<h2>Sync</h2>' +
                    row('Synced', si.synced) +
                    row('Tip height', si.tip_height) +
                    row('Best peer height', si.best_peer_height)
                for (const [id, height] of Object.entries(si.per_peer || {})) {
                    html += row(id, height)
                }
                document.getElementById('sync-info').innerHTML = html
            } catch (error) {
                console.error('Error fetching sync info:', error)
            }
        }
        async function updatePeersInfo() {
            try {
                const pi = await fetchJSON('/api/v1/get_peers_info')
                let html = '<h2>Peers</h2>' + row('Host ID', pi.host_id) + '<ul>'
                for (const p of pi.peers || []) {
                    html += '<li>' +
                        row('ID', p.id) +
                        row('Static', p.is_static) +
                        row('Added', convertTimestamp(p.when_added)) +
                        row('Tip height', p.tip_height) +
                        row('Addresses', (p.multiAddresses || []).join(', ')) +
                        '</li>'
                }
                document.getElementById('peers-info').innerHTML = html + '</ul>'
            } catch (error) {
                console.error('Error fetching peers info:', error)
            }
        }
        function updateAll() {
            updateNodeInfo()
            updateSyncInfo()
            updatePeersInfo()
        }
        updateAll()
        setInterval(updateAll, pollingPeriod)
    </script>
</body>
</html>
`
