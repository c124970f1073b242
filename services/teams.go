package services

import (
	"fmt"
	"time"

	"meetandmore-server/models"
)

// Participant is one waiting user as seen by the matching algorithm. The
// slice order given to FormTeams is the waitlist insertion order and is the
// only tie-breaker the algorithm uses.
type Participant struct {
	WaitlistID  uint
	UserID      uint
	Gender      models.Gender
	DateOfBirth *time.Time
}

// TeamDraft is a team produced by the matcher before anything is persisted.
type TeamDraft struct {
	Members []Participant
}

func (t TeamDraft) genderCount() (males, females int) {
	for _, m := range t.Members {
		switch m.Gender {
		case models.GenderMale:
			males++
		case models.GenderFemale:
			females++
		}
	}
	return males, females
}

// ratioSplit is one allowed (males, females) composition for a team size.
type ratioSplit struct {
	males   int
	females int
}

// Allowed splits per team size, in selection priority order. Mixed splits
// come before single-gender ones for sizes 4 and 5; the order is a fixed
// policy, not an optimality claim.
var teamRatios = map[int][]ratioSplit{
	5: {{3, 2}, {2, 3}, {5, 0}, {0, 5}},
	4: {{2, 2}, {1, 3}, {4, 0}, {0, 4}},
	3: {{3, 0}, {0, 3}, {1, 2}},
}

// teamSizePriority is the carve order: larger teams first.
var teamSizePriority = []int{5, 4, 3}

// splitIsValid reports whether a (males, females) composition is acceptable
// for its size. Six-member teams are only reachable via absorption or the
// late-arrival path and just need two of each gender.
func splitIsValid(males, females int) bool {
	size := males + females
	if size == 6 {
		return males >= 2 && females >= 2
	}
	for _, r := range teamRatios[size] {
		if r.males == males && r.females == females {
			return true
		}
	}
	return false
}

// FormTeams partitions the waiting pool into ratio-valid teams and returns
// the drafts plus whoever could not be placed. Participants with a gender
// outside Male/Female are rejected; the caller refunds them before the
// formation run ever sees them, so hitting this is a programming error
// upstream.
func FormTeams(participants []Participant) (teams []TeamDraft, unassigned []Participant, err error) {
	var males, females []Participant
	for _, p := range participants {
		switch p.Gender {
		case models.GenderMale:
			males = append(males, p)
		case models.GenderFemale:
			females = append(females, p)
		default:
			return nil, nil, fmt.Errorf("unsupported gender %q for user %d", p.Gender, p.UserID)
		}
	}

	for _, size := range teamSizePriority {
		for len(males)+len(females) >= size {
			draft, ok := carveTeam(size, &males, &females)
			if !ok {
				break
			}
			teams = append(teams, draft)
		}
	}

	females = absorbResidualFemales(teams, females)

	// Three or more leftover males still make valid all-male teams.
	for _, size := range teamSizePriority {
		for len(males) >= size {
			draft := TeamDraft{Members: take(&males, size)}
			teams = append(teams, draft)
		}
	}

	unassigned = append(unassigned, males...)
	unassigned = append(unassigned, females...)
	return teams, unassigned, nil
}

// carveTeam takes the first ratio of the given size whose required counts are
// available, consuming members from the front of each list.
func carveTeam(size int, males, females *[]Participant) (TeamDraft, bool) {
	for _, r := range teamRatios[size] {
		if len(*males) >= r.males && len(*females) >= r.females {
			members := take(males, r.males)
			members = append(members, take(females, r.females)...)
			return TeamDraft{Members: members}, true
		}
	}
	return TeamDraft{}, false
}

func take(pool *[]Participant, n int) []Participant {
	out := append([]Participant(nil), (*pool)[:n]...)
	*pool = (*pool)[n:]
	return out
}

// absorbResidualFemales spreads up to two leftover females into existing
// teams that still have room (<6 members) and fewer than 3 females, smallest
// female count first. Returns whoever could not be placed.
func absorbResidualFemales(teams []TeamDraft, females []Participant) []Participant {
	if len(females) == 0 || len(females) > 2 {
		return females
	}
	for len(females) > 0 {
		best := -1
		bestFemales := 0
		for i := range teams {
			if len(teams[i].Members) >= 6 {
				continue
			}
			_, f := teams[i].genderCount()
			if f >= 3 {
				continue
			}
			if best == -1 || f < bestFemales {
				best = i
				bestFemales = f
			}
		}
		if best == -1 {
			return females
		}
		teams[best].Members = append(teams[best].Members, females[0])
		females = females[1:]
	}
	return nil
}

// FindTeamForLateArrival scans formed teams in creation order for the first
// one where adding the newcomer keeps a valid composition at the new size.
// Returns the index into teams, or -1 when no team qualifies and the caller
// should fall back to a refund.
func FindTeamForLateArrival(teams []models.Team, gender models.Gender) (int, error) {
	if gender != models.GenderMale && gender != models.GenderFemale {
		return -1, fmt.Errorf("unsupported gender %q for late arrival", gender)
	}
	for i := range teams {
		if len(teams[i].Members) >= 6 {
			continue
		}
		m, f := teams[i].GenderCount()
		if gender == models.GenderMale {
			m++
		} else {
			f++
		}
		if splitIsValid(m, f) {
			return i, nil
		}
	}
	return -1, nil
}
