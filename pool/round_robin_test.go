package pool

import (
	"testing"

	shardclient "github.com/vivicoco/go-shardclient"
)

const (
	validAddr1 = "shard-a:27018"
	validAddr2 = "shard-b:27018"
)

func TestRoundRobinAddDelete(t *testing.T) {
	rr := newRoundRobinStrategy(10)

	addrs := []string{validAddr1, validAddr2}
	ends := make([]*endpoint, len(addrs))
	for i, addr := range addrs {
		ends[i] = newEndpoint(addr, shardclient.KindSingle)
		rr.AddEndpoint(ends[i])
	}

	for i, addr := range addrs {
		if end := rr.DeleteEndpointByAddr(addr); end != ends[i] {
			t.Errorf("Unexpected endpoint on address %s", addr)
		}
	}
	if !rr.IsEmpty() {
		t.Errorf("RoundRobin does not empty")
	}
}

func TestRoundRobinAddDuplicateDelete(t *testing.T) {
	rr := newRoundRobinStrategy(10)

	end1 := newEndpoint(validAddr1, shardclient.KindSingle)
	end2 := newEndpoint(validAddr1, shardclient.KindSingle)

	rr.AddEndpoint(end1)
	rr.AddEndpoint(end2)

	if rr.DeleteEndpointByAddr(validAddr1) != end2 {
		t.Errorf("Unexpected deleted endpoint")
	}
	if !rr.IsEmpty() {
		t.Errorf("RoundRobin does not empty")
	}
	if rr.DeleteEndpointByAddr(validAddr1) != nil {
		t.Errorf("Unexpected value after second deletion")
	}
}

func TestRoundRobinDeleteReindexes(t *testing.T) {
	rr := newRoundRobinStrategy(10)

	first := newEndpoint(validAddr1, shardclient.KindSingle)
	second := newEndpoint(validAddr2, shardclient.KindSingle)
	rr.AddEndpoint(first)
	rr.AddEndpoint(second)

	if rr.DeleteEndpointByAddr(validAddr1) != first {
		t.Errorf("Unexpected deleted endpoint")
	}
	if rr.GetEndpointByAddr(validAddr2) != second {
		t.Errorf("Surviving endpoint lost after deletion")
	}
	if rr.GetNextEndpoint() != second {
		t.Errorf("Unexpected endpoint after deletion")
	}
}

func TestRoundRobinGetNextEndpoint(t *testing.T) {
	rr := newRoundRobinStrategy(10)

	addrs := []string{validAddr1, validAddr2}
	ends := make([]*endpoint, len(addrs))
	for i, addr := range addrs {
		ends[i] = newEndpoint(addr, shardclient.KindSingle)
		rr.AddEndpoint(ends[i])
	}

	expected := []*endpoint{ends[0], ends[1], ends[0], ends[1]}
	for i, end := range expected {
		if rr.GetNextEndpoint() != end {
			t.Errorf("Unexpected endpoint on %d call", i)
		}
	}
}

func TestRoundRobinStrategy_GetEndpoints(t *testing.T) {
	rr := newRoundRobinStrategy(10)

	addrs := []string{validAddr1, validAddr2}
	ends := make([]*endpoint, len(addrs))
	for i, addr := range addrs {
		ends[i] = newEndpoint(addr, shardclient.KindSingle)
		rr.AddEndpoint(ends[i])
	}

	rr.GetEndpoints()[1] = ends[0] // GetEndpoints() returns a copy.
	rrEnds := rr.GetEndpoints()

	for i := range addrs {
		if ends[i] != rrEnds[i] {
			t.Errorf("Unexpected endpoint on %d index", i)
		}
	}
}
