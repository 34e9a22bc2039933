// Package template renders the OAuth callback page. The page runs inside
// the popup window and hands the handshake result back to the opener via
// postMessage, then closes itself.
package template

import (
	htmltemplate "html/template"
	"io"

	"github.com/taskhive/backend/pkg/api"
)

// CallbackPayload is the message posted to the opener window. Shape is
// shared with the client popup handshake.
type CallbackPayload struct {
	Success     bool         `json:"success"`
	AccessToken string       `json:"accessToken,omitempty"`
	Account     *api.Account `json:"user,omitempty"`
	Error       string       `json:"error,omitempty"`
}

type CallbackData struct {
	// TargetOrigin restricts which opener origin may receive the
	// payload. Empty falls back to "*".
	TargetOrigin string
	Payload      CallbackPayload
}

var callbackTmpl = htmltemplate.Must(htmltemplate.New("oauth_callback").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Signing in…</title></head>
<body>
<p>Completing sign-in, you can close this window.</p>
<script>
(function () {
	var payload = {{.Payload}};
	var target = {{.TargetOrigin}} || "*";
	if (window.opener) {
		window.opener.postMessage(payload, target);
	}
	window.close();
})();
</script>
</body>
</html>
`))

func RenderCallback(w io.Writer, data CallbackData) error {
	return callbackTmpl.Execute(w, data)
}
