package bus

import "github.com/cuemby/clusterctl/pkg/metricspipeline"

// OwnerFilter builds the /topic/metrics Filterer: a per-cluster sample
// map narrowed down to the clusters identity owns. ownerOf resolves a
// cluster id to its owning user id; a miss excludes the cluster.
func OwnerFilter(ownerOf func(clusterID string) (string, bool)) Filterer {
	return func(identity Identity, payload interface{}) interface{} {
		samples, ok := payload.(map[string]metricspipeline.Sample)
		if !ok {
			return payload
		}
		filtered := make(map[string]metricspipeline.Sample, len(samples))
		for id, sample := range samples {
			owner, found := ownerOf(id)
			if found && owner == identity.UserID {
				filtered[id] = sample
			}
		}
		return filtered
	}
}
