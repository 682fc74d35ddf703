package relay

// Peer is a fan-out target.
type Peer interface {
	ID() string
	// Ready reports whether the connection is open. Closing and closed
	// connections are excluded from fan-out.
	Ready() bool
	// Send enqueues payload without blocking. It returns false when the
	// payload could not be queued.
	Send(payload []byte) bool
}

// Stats counts the outcome of one Broadcast.
type Stats struct {
	Sent    int
	Skipped int
}

// Broadcast sends payload to every peer except the one whose id equals
// except. An empty except targets all peers. Peers that are not ready, or
// whose queue is full, are skipped; nothing is retried or held back.
func Broadcast(peers []Peer, except string, payload []byte) Stats {
	var st Stats
	for _, p := range peers {
		if except != "" && p.ID() == except {
			continue
		}
		if !p.Ready() || !p.Send(payload) {
			st.Skipped++
			continue
		}
		st.Sent++
	}
	return st
}
