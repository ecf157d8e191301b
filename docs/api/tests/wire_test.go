package tests

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func loadWireContract(t *testing.T) map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "bridge_wire.yaml"))
	if err != nil {
		t.Fatalf("read wire contract: %v", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return doc
}

func TestEnvelopeTagsAndRequiredFields(t *testing.T) {
	doc := loadWireContract(t)
	envelopes := doc["envelopes"].(map[string]any)
	for _, tag := range []string{"provider-request", "provider-response"} {
		envelope, ok := envelopes[tag].(map[string]any)
		if !ok {
			t.Fatalf("missing envelope %s", tag)
		}
		fields := envelope["fields"].(map[string]any)
		id := fields["id"].(map[string]any)
		if id["required"] != true {
			t.Fatalf("%s: id must stay required", tag)
		}
		tagField := fields["tag"].(map[string]any)
		if tagField["const"] != tag {
			t.Fatalf("%s: tag const mismatch", tag)
		}
	}
	request := envelopes["provider-request"].(map[string]any)
	fields := request["fields"].(map[string]any)
	method := fields["method"].(map[string]any)
	methods, ok := method["enum"].([]any)
	if !ok {
		t.Fatal("provider-request: method enum missing")
	}
	want := map[string]bool{
		"GET_WALLET_ADDRESS": false,
		"SIGN_TRANSACTION":   false,
		"GET_BALANCE":        false,
	}
	for _, m := range methods {
		if _, tracked := want[m.(string)]; tracked {
			want[m.(string)] = true
		}
	}
	for m, seen := range want {
		if !seen {
			t.Fatalf("method enum missing %s", m)
		}
	}
}

func TestForwardedCallShape(t *testing.T) {
	doc := loadWireContract(t)
	service := doc["service"].(map[string]any)
	if service["name"] != "bridge.v1.HostService" {
		t.Fatalf("unexpected service name %v", service["name"])
	}
	if service["codec"] != "json" {
		t.Fatalf("forwarded calls must stay on the json codec, got %v", service["codec"])
	}
	methods := service["methods"].(map[string]any)
	call, ok := methods["Call"].(map[string]any)
	if !ok {
		t.Fatal("service missing Call method")
	}
	request := call["request"].(map[string]any)
	if _, ok := request["type"]; !ok {
		t.Fatal("Call request must carry a type field")
	}
	response := call["response"].(map[string]any)
	for _, field := range []string{"result", "error"} {
		if _, ok := response[field]; !ok {
			t.Fatalf("Call response missing %s", field)
		}
	}
}

func TestCanonicalErrorMessages(t *testing.T) {
	doc := loadWireContract(t)
	errors := doc["errors"].(map[string]any)
	messages := errors["canonical_messages"].(map[string]any)
	expect := map[string]string{
		"TIMEOUT":       "request timed out",
		"NO_WALLET":     "No wallet found",
		"USER_REJECTED": "User rejected the request",
	}
	for code, msg := range expect {
		if messages[code] != msg {
			t.Fatalf("canonical message for %s changed: %v", code, messages[code])
		}
	}
}
