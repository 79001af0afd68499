package producer

import "testing"

func shardCounts(dist map[string][]string) map[string]int {
	counts := make(map[string]int)
	for _, shards := range dist {
		for _, s := range shards {
			counts[s]++
		}
	}
	return counts
}

func TestDistributeSpreadsReplicasAcrossPeers(t *testing.T) {
	peers := []string{"p1", "p2", "p3"}
	shards := []string{"a", "b", "c", "d", "e", "f"}
	dist := Distribute(peers, shards, 2)

	counts := shardCounts(dist)
	for _, shard := range shards {
		if counts[shard] != 2 {
			t.Fatalf("shard %s: expected 2 replicas, got %d", shard, counts[shard])
		}
	}

	for _, peer := range peers {
		seen := make(map[string]bool)
		for _, shard := range dist[peer] {
			if seen[shard] {
				t.Fatalf("peer %s assigned shard %s twice", peer, shard)
			}
			seen[shard] = true
		}
	}
}

func TestDistributeSingleReplicaIsBalanced(t *testing.T) {
	peers := []string{"p1", "p2"}
	shards := []string{"a", "b", "c", "d"}
	dist := Distribute(peers, shards, 1)

	total := 0
	for _, peer := range peers {
		total += len(dist[peer])
	}
	if total != len(shards) {
		t.Fatalf("expected %d total assignments, got %d", len(shards), total)
	}
	for _, peer := range peers {
		if n := len(dist[peer]); n != 2 {
			t.Fatalf("peer %s: expected 2 shards, got %d", peer, n)
		}
	}
}

func TestDistributeCapsReplicasByPeerCount(t *testing.T) {
	peers := []string{"solo"}
	shards := []string{"a", "b"}
	dist := Distribute(peers, shards, 3)

	if got := len(dist["solo"]); got != 2 {
		t.Fatalf("expected single peer to hold both shards once each, got %d assignments", got)
	}
}

func TestDistributeRebalanceOnJoinSplitsEvenly(t *testing.T) {
	before := Distribute([]string{"p1"}, []string{"a", "b", "c", "d"}, 1)
	if len(before["p1"]) != 4 {
		t.Fatalf("expected p1 to hold all 4 shards alone, got %v", before["p1"])
	}

	after := Distribute([]string{"p1", "p2"}, []string{"a", "b", "c", "d"}, 1)
	counts := shardCounts(after)
	for _, shard := range []string{"a", "b", "c", "d"} {
		if counts[shard] != 1 {
			t.Fatalf("shard %s: expected exactly 1 replica after rebalance, got %d", shard, counts[shard])
		}
	}
	if len(after["p1"]) != 2 || len(after["p2"]) != 2 {
		t.Fatalf("expected even 2/2 split after second peer joins, got p1=%v p2=%v", after["p1"], after["p2"])
	}
}

func TestDistributeEmptyPeersYieldsNoAssignment(t *testing.T) {
	dist := Distribute(nil, []string{"a", "b"}, 2)
	if len(dist) != 0 {
		t.Fatalf("expected no assignment with no peers, got %v", dist)
	}
}
