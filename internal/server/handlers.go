package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ServeHTTP upgrades the request to a WebSocket connection and runs its
// session until the client goes away.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	if !r.beginSession() {
		http.Error(w, "Server is shutting down.", http.StatusServiceUnavailable)
		return
	}
	defer r.sessions.Done()

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "remote", req.RemoteAddr, "error", err)
		return
	}

	r.serveConn(newConn(ws, req.RemoteAddr, r.cfg, r.logger))
}

// HealthHandler reports that the process is up.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	_, _ = fmt.Fprint(w, "Relay server is running!")
}

type statsResponse struct {
	Connections int `json:"connections"`
}

// StatsHandler reports the number of registered connections as JSON.
func (r *Relay) StatsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(statsResponse{Connections: r.Count()}); err != nil {
		r.logger.Error("error writing stats response", "error", err)
	}
}

// TestPageHandler serves a minimal browser client for manual testing.
func (r *Relay) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		r.logger.Error("error writing HTML response", "error", err)
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; background-color: #f9f9f9; }
        input[type="text"] { width: 300px; padding: 5px; margin-right: 10px; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Relay Test</h1>
    <div id="status" class="status disconnected">Disconnected</div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" disabled>Send</button>
        <button id="connectButton">Connect</button>
    </div>
    <div id="messages"></div>
    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        // Every message comes back from the relay, our own included.
        function addLine(text, italic) {
            const line = document.createElement(italic ? 'em' : 'div');
            line.textContent = text;
            messagesDiv.appendChild(line);
            messagesDiv.appendChild(document.createElement('br'));
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = () => { addLine('Connected to relay', true); updateStatus(true); };
            ws.onmessage = (event) => addLine(event.data, false);
            ws.onclose = (event) => { addLine('Connection closed (' + event.code + ')', true); updateStatus(false); ws = null; };
            ws.onerror = () => addLine('Connection error', true);
        }

        function sendMessage() {
            const message = messageInput.value;
            if (message && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(message);
                messageInput.value = '';
            }
        }

        connectButton.onclick = () => (ws && ws.readyState === WebSocket.OPEN) ? ws.close() : connect();
        sendButton.onclick = sendMessage;
        messageInput.addEventListener('keypress', (e) => { if (e.key === 'Enter') sendMessage(); });
    </script>
</body>
</html>`
