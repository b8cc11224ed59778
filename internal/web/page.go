package web

import (
	"html/template"
	"net/http"

	"github.com/ytget/qrplay/errs"
	"github.com/ytget/qrplay/game"
	"github.com/ytget/qrplay/scanner"
	"github.com/ytget/qrplay/youtube/embed"
)

type pageMessages struct {
	Denied      string
	NotFound    string
	Busy        string
	StartFailed string
	InvalidCode string
}

type pageData struct {
	Nonce        string
	PlayerTitle  string
	TargetOrigin string
	ScannerFPS   int
	ScannerBox   int
	Messages     pageMessages
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>QR Play</title>
<style nonce="{{.Nonce}}">
body { font-family: system-ui, sans-serif; margin: 0; padding: 1rem; background: #111; color: #eee; }
.hidden { display: none !important; }
#error-box { background: #b91c1c; padding: .5rem 1rem; border-radius: 8px; margin-bottom: 1rem; }
#reader { width: 100%; max-width: 400px; margin: 0 auto; }
#iframe-wrapper { position: relative; aspect-ratio: 16 / 9; border-radius: 12px; overflow: hidden; }
#iframe-wrapper iframe { width: 100%; height: 100%; border: 0; border-radius: 12px; }
#iframe-wrapper:not(.revealed)::after { content: ""; position: absolute; inset: 0; background: #000; }
button { font-size: 1.25rem; padding: .75rem 1.5rem; border-radius: 999px; border: 0; cursor: pointer; }
#play-button { background: #dc2626; color: #fff; }
#video-info { margin-top: 1rem; }
</style>
<script nonce="{{.Nonce}}" src="https://unpkg.com/html5-qrcode@2.3.8/html5-qrcode.min.js"></script>
</head>
<body>
<div id="error-box" class="hidden" role="alert"></div>

<section id="scanner-view">
  <div id="reader" class="hidden"></div>
  <button id="scan-button" type="button">Scan QR code</button>
  <form id="paste-form">
    <input id="urlInput" type="url" placeholder="or paste a YouTube link" autocomplete="off">
    <button type="submit">Load</button>
  </form>
</section>

<section id="game-view" class="hidden">
  <div id="player-container">
    <div id="iframe-wrapper"></div>
  </div>
  <button id="play-button" type="button">Play</button>
  <button id="reveal-button" type="button" class="hidden">Reveal video</button>
  <div id="video-info" class="hidden"></div>
  <button id="next-button" type="button">Next card</button>
</section>

<script nonce="{{.Nonce}}">
(function () {
  "use strict";
  var $ = function (sel) { return document.querySelector(sel); };
  var messages = {
    denied: {{.Messages.Denied}},
    notFound: {{.Messages.NotFound}},
    busy: {{.Messages.Busy}},
    startFailed: {{.Messages.StartFailed}},
    invalidCode: {{.Messages.InvalidCode}}
  };
  var targetOrigin = {{.TargetOrigin}};
  var playerTitle = {{.PlayerTitle}};
  var sessionId = null;
  var scanner = null;
  var running = false;
  var frame = null;

  function showError(msg) {
    var box = $("#error-box");
    box.textContent = msg || "";
    box.classList.toggle("hidden", !msg);
    if (msg) { setTimeout(function () { box.classList.add("hidden"); }, 3500); }
  }

  function call(method, path, body) {
    return fetch(path, {
      method: method,
      headers: body ? {"Content-Type": "application/json"} : {},
      body: body ? JSON.stringify(body) : undefined
    }).then(function (r) {
      return r.json().then(function (data) {
        if (!r.ok) { throw new Error(data.error || r.statusText); }
        return data;
      });
    });
  }

  function render(state) {
    var inGame = state.view === "game";
    $("#scanner-view").classList.toggle("hidden", inGame);
    $("#game-view").classList.toggle("hidden", !inGame);
    $("#play-button").classList.toggle("hidden", state.playing);
    $("#reveal-button").classList.toggle("hidden", !state.playing);
    $("#reveal-button").disabled = state.revealed;
    $("#iframe-wrapper").classList.toggle("revealed", state.revealed);
    if (!state.playing) {
      $("#iframe-wrapper").innerHTML = "";
      frame = null;
      $("#video-info").classList.add("hidden");
    }
  }

  function cameraMessage(err) {
    var name = err && err.name;
    var text = String((err && err.message) || err || "").toLowerCase();
    if (name === "NotAllowedError" || text.indexOf("permission denied") >= 0) { return messages.denied; }
    if (name === "NotFoundError" || text.indexOf("device not found") >= 0) { return messages.notFound; }
    if (name === "NotReadableError" || text.indexOf("in use") >= 0) { return messages.busy; }
    return messages.startFailed;
  }

  function stopScanner() {
    var was = running;
    running = false;
    $("#reader").classList.add("hidden");
    $("#scan-button").classList.remove("hidden");
    if (!scanner || !was) { return Promise.resolve(); }
    return scanner.stop().catch(function () {}).then(function () {
      try { scanner.clear(); } catch (e) {}
    });
  }

  function load(text) {
    return call("POST", "/api/sessions/" + sessionId + "/load", {url: text}).then(render, function () {
      showError(messages.invalidCode);
    });
  }

  function startScanner() {
    if (running) { return; }
    if (!window.Html5Qrcode) { showError(messages.notFound); return; }
    if (!scanner) { scanner = new Html5Qrcode("reader"); }
    $("#scan-button").classList.add("hidden");
    $("#reader").classList.remove("hidden");
    scanner.start({facingMode: "environment"}, {fps: {{.ScannerFPS}}, qrbox: {width: {{.ScannerBox}}, height: {{.ScannerBox}}}},
      function (decoded) { stopScanner().then(function () { load(decoded); }); },
      function () {}
    ).then(function () {
      running = true;
      showError("");
    }, function (err) {
      if (String((err && err.message) || err).indexOf("already running") >= 0) { running = true; return; }
      showError(cameraMessage(err));
      $("#reader").classList.add("hidden");
      $("#scan-button").classList.remove("hidden");
    });
  }

  function play() {
    call("POST", "/api/sessions/" + sessionId + "/play").then(function (p) {
      var iframe = document.createElement("iframe");
      iframe.src = p.embedUrl;
      iframe.title = playerTitle;
      iframe.loading = "lazy";
      iframe.allow = p.frame.allow;
      iframe.allowFullscreen = true;
      var wrapper = $("#iframe-wrapper");
      wrapper.innerHTML = "";
      wrapper.appendChild(iframe);
      frame = iframe;
      render(p.state);
      setTimeout(function () {
        if (frame !== iframe || !iframe.contentWindow) { return; }
        iframe.contentWindow.postMessage(JSON.stringify(p.command), targetOrigin);
      }, p.delayMs);
    }, function (err) { showError(err.message); });
  }

  function reveal() {
    call("POST", "/api/sessions/" + sessionId + "/reveal").then(function (r) {
      render(r.state);
      if (frame) { frame.focus(); }
      if (r.info) {
        var info = $("#video-info");
        info.textContent = r.info.title + (r.info.author ? " - " + r.info.author : "");
        info.classList.remove("hidden");
      }
    }, function (err) { showError(err.message); });
  }

  function next() {
    call("POST", "/api/sessions/" + sessionId + "/reset").then(function (state) {
      $("#urlInput").value = "";
      render(state);
    });
  }

  $("#scan-button").addEventListener("click", startScanner);
  $("#play-button").addEventListener("click", play);
  $("#reveal-button").addEventListener("click", reveal);
  $("#next-button").addEventListener("click", next);
  $("#paste-form").addEventListener("submit", function (ev) {
    ev.preventDefault();
    stopScanner().then(function () { load($("#urlInput").value); });
  });

  call("POST", "/api/sessions").then(function (s) {
    sessionId = s.id;
    render(s.state);
  }, function (err) { showError(err.message); });
})();
</script>
</body>
</html>
`))

func newPageData(nonce string) pageData {
	cfg := scanner.DefaultConfig()
	return pageData{
		Nonce:        nonce,
		PlayerTitle:  embed.Title,
		TargetOrigin: embed.TargetOrigin,
		ScannerFPS:   cfg.FPS,
		ScannerBox:   cfg.QRBox.Width,
		Messages: pageMessages{
			Denied:      scanner.Message(errs.ErrPermissionDenied),
			NotFound:    scanner.Message(errs.ErrDeviceNotFound),
			Busy:        scanner.Message(errs.ErrDeviceBusy),
			StartFailed: scanner.Message(errs.ErrStartFailed),
			InvalidCode: game.MsgInvalidCode,
		},
	}
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := pageTemplate.Execute(w, newPageData(nonceFromContext(r.Context()))); err != nil {
		s.log.Error("Failed to render page", map[string]interface{}{"error": err})
	}
}
