package cluster

// legalTransitions is the member lifecycle graph. Removed is terminal.
// Reachability is an orthogonal overlay and never passes through here.
var legalTransitions = map[NodeStatus][]NodeStatus{
	StatusJoining:  {StatusWeaklyUp, StatusUp, StatusRemoved},
	StatusWeaklyUp: {StatusUp, StatusLeaving, StatusRemoved},
	StatusUp:       {StatusLeaving, StatusRemoved},
	StatusLeaving:  {StatusExiting, StatusRemoved},
	StatusExiting:  {StatusRemoved},
	StatusRemoved:  {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to NodeStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
