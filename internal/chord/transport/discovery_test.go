package transport

import "testing"

func TestMulticastCapableInterfacesNeverEmpty(t *testing.T) {
	ifaces, err := multicastCapableInterfaces()
	if err != nil {
		t.Fatalf("multicastCapableInterfaces: %v", err)
	}
	if len(ifaces) == 0 {
		t.Fatal("expected at least a fallback interface entry")
	}
}

func TestDiscoveryDebounceIsPositive(t *testing.T) {
	if DiscoveryDebounce <= 0 {
		t.Fatal("DiscoveryDebounce must be positive so bursts can collapse")
	}
}
