package mqttbus

import "testing"

func TestEncodePassesBytesAndStringsThroughUnencoded(t *testing.T) {
	if got := string(encode("ON")); got != "ON" {
		t.Fatalf("expected string payloads to pass through, got %q", got)
	}
	if got := string(encode([]byte("raw"))); got != "raw" {
		t.Fatalf("expected []byte payloads to pass through, got %q", got)
	}
	if got := encode(nil); got != nil {
		t.Fatalf("expected nil payload to encode to nil, got %v", got)
	}
}

func TestEncodeMarshalsOtherTypesAsJSON(t *testing.T) {
	got := string(encode(map[string]int{"position": 40}))
	want := `{"position":40}`
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCatalogueAllFlattensEveryRegisteredType(t *testing.T) {
	c := newCatalogue()
	c.add(AutoDiscoveryMessage{Type: DiscoverySwitch, Topic: "a"})
	c.add(AutoDiscoveryMessage{Type: DiscoverySwitch, Topic: "b"})
	c.add(AutoDiscoveryMessage{Type: DiscoverySensor, Topic: "c"})

	all := c.all()
	if len(all) != 3 {
		t.Fatalf("expected 3 messages across both types, got %d", len(all))
	}
}
