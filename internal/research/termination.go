package research

// Decision is the routing outcome after a completed round.
type Decision struct {
	Continue bool
	Reason   TerminationReason
}

// TerminationPolicy decides whether another round should run.
//
// Stagnation is a heuristic: a subject whose coverage is thin early on can
// produce several rounds without new entities and still have more to find.
// StagnationCheckIterations trades that false stop against wasted rounds.
type TerminationPolicy struct {
	StagnationCheckIterations int
}

// Evaluate applies the stop conditions in precedence order: maximum depth,
// then the latest reflection's stop recommendation, then stagnation. It is
// called after the depth counter of the finished round has been incremented.
func (p TerminationPolicy) Evaluate(s State) Decision {
	if s.CurrentDepth >= s.MaxDepth {
		return Decision{Reason: ReasonMaxDepth}
	}
	if r := s.LatestReflection(); r != nil && !r.ShouldContinue {
		return Decision{Reason: ReasonReflectionStop}
	}
	if p.Stagnated(s.RoundProgress) {
		return Decision{Reason: ReasonStagnation}
	}
	return Decision{Continue: true}
}

// Stagnated reports whether each of the last StagnationCheckIterations
// rounds produced no new entities. Fewer completed rounds than the window
// never count as stagnation.
func (p TerminationPolicy) Stagnated(progress []int) bool {
	n := p.StagnationCheckIterations
	if n <= 0 || len(progress) < n {
		return false
	}
	for _, created := range progress[len(progress)-n:] {
		if created > 0 {
			return false
		}
	}
	return true
}
