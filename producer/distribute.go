package producer

// Distribute computes a peer→shards assignment (spec §4.9.2): for each
// shard in order, repeatedly pick the peer (among those not already
// holding it) with the fewest current assignments — ties broken by peers'
// input order, since the scan is stable — until replicas copies exist or
// no eligible peer remains.
func Distribute(peers []string, shards []string, replicas int) map[string][]string {
	assignment := make(map[string][]string, len(peers))
	counts := make(map[string]int, len(peers))
	for _, p := range peers {
		assignment[p] = nil
		counts[p] = 0
	}

	holds := func(p, shard string) bool {
		for _, s := range assignment[p] {
			if s == shard {
				return true
			}
		}
		return false
	}

	for _, shard := range shards {
		for copies := 0; copies < replicas; copies++ {
			best := ""
			bestCount := -1
			for _, p := range peers {
				if holds(p, shard) {
					continue
				}
				c := counts[p]
				if bestCount == -1 || c < bestCount {
					bestCount = c
					best = p
				}
			}
			if best == "" {
				break
			}
			assignment[best] = append(assignment[best], shard)
			counts[best]++
		}
	}

	return assignment
}
