package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleIndex serves the control page
func (s *Server) handleIndex(c *gin.Context) {
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>MicRecord</title>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/@picocss/pico@2/css/pico.min.css">
</head>
<body>
<main class="container">
    <h1>MicRecord</h1>
    <p id="error" style="color: var(--pico-del-color)"></p>
    <label>Microphone
        <select id="devices" onchange="post('/api/select', {device_id: this.value})"></select>
    </label>
    <div role="group">
        <button onclick="post('/api/enable')">Enable microphone</button>
        <button onclick="post('/api/mute')">Mute</button>
        <button onclick="post('/api/devices/refresh')">Refresh devices</button>
    </div>
    <progress id="level" value="0" max="100"></progress>
    <p>State: <strong id="state"></strong> <span id="countdown"></span> <span id="elapsed"></span></p>
    <div role="group">
        <button onclick="post('/api/start')">Record</button>
        <button onclick="post('/api/stop')">Stop</button>
        <button onclick="post('/api/cancel')" class="secondary">Cancel</button>
    </div>
    <div id="review" hidden>
        <audio id="player" controls></audio>
        <div role="group">
            <button onclick="post('/api/submit')">Submit</button>
            <button onclick="post('/api/reset')" class="secondary">Record again</button>
        </div>
    </div>
    <button id="retry" onclick="post('/api/retry')" hidden>Retry</button>
</main>
<script>
let artifactId = '';
async function post(path, body) {
    const res = await fetch(path, {
        method: 'POST',
        headers: {'Content-Type': 'application/json'},
        body: body ? JSON.stringify(body) : undefined,
    });
    const data = await res.json();
    if (!res.ok) { document.getElementById('error').textContent = data.error; return; }
    render(data);
}
function stopwatch(ms) {
    const secs = Math.floor(ms / 1000);
    return Math.floor(secs / 60) + ':' + String(secs % 60).padStart(2, '0');
}
function render(s) {
    document.getElementById('state').textContent = s.state + (s.muted ? ' (muted)' : '');
    document.getElementById('error').textContent = s.error;
    document.getElementById('level').value = s.level;
    document.getElementById('countdown').textContent = s.countdown_ms > 0 ? Math.ceil(s.countdown_ms / 1000) + 's' : '';
    document.getElementById('elapsed').textContent = s.recording ? stopwatch(s.recording_ms) : '';
    document.getElementById('retry').hidden = s.state !== 'ERROR';
    const select = document.getElementById('devices');
    const options = (s.devices || []).map(d => '<option value="' + d.id + '"' + (d.id === s.device_id ? ' selected' : '') + '>' + (d.label || d.id) + '</option>');
    const html = '<option value="">Choose a microphone</option>' + options.join('');
    if (select.innerHTML !== html) select.innerHTML = html;
    document.getElementById('review').hidden = !s.reviewing;
    if (s.reviewing && s.artifact && s.artifact.id !== artifactId) {
        artifactId = s.artifact.id;
        document.getElementById('player').src = '/api/artifact?id=' + artifactId;
    }
}
async function poll() {
    const res = await fetch('/api/status');
    render(await res.json());
}
setInterval(poll, 200);
poll();
</script>
</body>
</html>`
