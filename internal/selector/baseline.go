package selector

import "github.com/Pranshu258/inference-scheduler/internal/poolstore"

// baselineRoundRobin and baselineLeastWaiting are not selectable algorithms
// (spec.md §4.3.2 closes the algorithm family over s1/s2); they exist only
// so the package's own tests can sanity-check that score-weighted selection
// actually concentrates traffic away from loaded members more aggressively
// than naive round robin would, adapted from the teacher's round_robin/
// least_rif load balancer strategies.

// baselineRoundRobin cycles through keys in a fixed order, ignoring load.
func baselineRoundRobin(keys []poolstore.MemberKey, cursor *int) poolstore.MemberKey {
	if len(keys) == 0 {
		return poolstore.MemberKey{}
	}
	k := keys[*cursor%len(keys)]
	*cursor++
	return k
}

// baselineLeastWaiting always picks the member reporting the smallest
// waiting_queue value, ties broken by position order.
func baselineLeastWaiting(members []*poolstore.Member) (poolstore.MemberKey, bool) {
	var best *poolstore.Member
	for _, m := range members {
		if m.Status != poolstore.StatusReady {
			continue
		}
		waiting, ok := m.Metrics["waiting_queue"]
		if !ok {
			continue
		}
		if best == nil || waiting < best.Metrics["waiting_queue"] {
			best = m
		}
	}
	if best == nil {
		return poolstore.MemberKey{}, false
	}
	return best.Key, true
}
