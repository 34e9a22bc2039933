package template

import (
	"bytes"
	"strings"
	"testing"

	"github.com/taskhive/backend/pkg/api"
)

func TestRenderCallbackSuccess(t *testing.T) {
	var buf bytes.Buffer
	err := RenderCallback(&buf, CallbackData{
		TargetOrigin: "http://localhost:3000",
		Payload: CallbackPayload{
			Success:     true,
			AccessToken: "tok-123",
			Account:     &api.Account{ID: "u1", Email: "alice@example.com", Name: "Alice"},
		},
	})
	if err != nil {
		t.Fatalf("RenderCallback: %v", err)
	}

	body := buf.String()
	for _, want := range []string{"postMessage", "tok-123", "alice@example.com", "http://localhost:3000", "window.close()"} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in rendered page:\n%s", want, body)
		}
	}
}

func TestRenderCallbackEscapesHostileInput(t *testing.T) {
	var buf bytes.Buffer
	err := RenderCallback(&buf, CallbackData{
		Payload: CallbackPayload{
			Success: false,
			Error:   `</script><script>alert(1)</script>`,
		},
	})
	if err != nil {
		t.Fatalf("RenderCallback: %v", err)
	}

	if strings.Contains(buf.String(), "<script>alert(1)</script>") {
		t.Fatalf("payload not escaped:\n%s", buf.String())
	}
}
