package score

import (
	"sort"

	"github.com/victornm/chatquiz/internal/domain"
)

// Tally counts, for every player on the roster, the rounds in which their
// token was marked correct. Players who never won report 0.
//
// The result is sorted ascending by points. Players with equal points keep
// their roster order, which is the order in which tokens were registered.
func Tally(roster *domain.Roster, history []domain.RoundResult) []domain.Score {
	counts := make(map[string]int)
	for _, r := range history {
		for _, token := range r.Winners {
			counts[token]++
		}
	}

	players := roster.Players()
	scores := make([]domain.Score, 0, len(players))
	for _, p := range players {
		scores = append(scores, domain.Score{Player: p, Points: counts[p.Token]})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Points < scores[j].Points
	})

	return scores
}
