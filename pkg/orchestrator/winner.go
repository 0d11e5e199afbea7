package orchestrator

import "github.com/massgen-go/massgen/pkg/coordination"

// determineWinner implements spec.md §4.1.3: tally votes, highest count
// wins, ties broken by earliest registration order (the same sorted-lex
// order used to assign anon aliases); with no votes at all (skip_voting),
// the winner is the first agent with a non-empty answer in registration
// order.
func determineWinner(session coordination.Session, registrationOrder []coordination.AgentID) (coordination.AgentID, error) {
	if len(session.Votes) == 0 {
		for _, id := range registrationOrder {
			answers := session.AnswersByAgent[id]
			if len(answers) > 0 && answers[len(answers)-1].Content != "" {
				return id, nil
			}
		}
		return "", ErrNoAnswers
	}

	tally := make(map[coordination.AgentID]int, len(registrationOrder))
	for _, v := range session.Votes {
		tally[v.VotedForRealID]++
	}

	var winner coordination.AgentID
	best := -1
	for _, id := range registrationOrder {
		count := tally[id]
		if count > best {
			best = count
			winner = id
		}
	}
	return winner, nil
}
