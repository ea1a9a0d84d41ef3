package mesh

// GossipPayload is the compact snapshot piggybacked on sync responses,
// invalidation responses, and versions queries (spec.md §4.2).
type GossipPayload struct {
	ServerID      string        `json:"serverId"`
	MaxVersion    int64         `json:"maxVersion"`
	PeerSummaries []PeerSummary `json:"peerSummaries"`
	Timestamp     int64         `json:"timestamp"`
}

// maxPeerSummaries bounds the gossip payload so headers stay small —
// spec.md §9 calls this out explicitly ("bound the peerSummaries list,
// e.g. top-K by recency").
const maxPeerSummaries = 16
