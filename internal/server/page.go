package server

import (
	"fmt"
	"html"
)

// componentPage wraps rendered markup and style text in the base HTML shell
// with the live-reload client. Markup is spliced verbatim (the evaluator does
// no escaping by policy); style text is opaque and only concatenated here.
func componentPage(name, markup, styleText string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Tagon - %s</title>
<style id="tagon-style">
%s
</style>
</head>
<body>
%s
%s
</body>
</html>`, html.EscapeString(name), styleText, markup, reloadScript)
}

// errorPage renders a compile or render failure for the browser. The page
// keeps the reload client so a fixed source recovers automatically.
func errorPage(err error) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>Tagon - Error</title>
<style>
body { font-family: sans-serif; background: #0a0a0a; color: #fff; padding: 2rem; }
pre { background: rgba(239, 68, 68, 0.1); border: 1px solid rgba(239, 68, 68, 0.3);
      color: #ff6b6b; padding: 1rem; border-radius: 8px; overflow-x: auto; }
</style>
</head>
<body>
<h1>Component error</h1>
<pre>%s</pre>
<p>The page reloads automatically when the source is saved.</p>
%s
</body>
</html>`, html.EscapeString(err.Error()), reloadScript)
}

// reloadScript is the live-reload client. Exactly two payloads arrive on the
// channel: "reload" replaces the page, "css-updated" swaps style text in
// place.
const reloadScript = `<script>
(function () {
  var ws = new WebSocket("ws://" + window.location.host + "/ws");
  ws.onmessage = function (event) {
    if (event.data === "reload") {
      window.location.reload();
    } else if (event.data === "css-updated") {
      fetch(window.location.href)
        .then(function (res) { return res.text(); })
        .then(function (text) {
          var doc = new DOMParser().parseFromString(text, "text/html");
          var next = doc.getElementById("tagon-style");
          var current = document.getElementById("tagon-style");
          if (next && current) {
            current.textContent = next.textContent;
          } else {
            window.location.reload();
          }
        });
    }
  };
  ws.onclose = function () {
    setTimeout(function () { window.location.reload(); }, 2000);
  };
})();
</script>`
