package fact

import "fmt"

// Rank orders the lexical contexts an instance variable can be assigned in.
// Lower values take precedence when electing a declaring occurrence.
type Rank int

const (
	RankCreate Rank = iota
	RankBeginStep
	RankStep
	RankEndStep
	RankOther
)

var rankNames = [...]string{"create", "begin_step", "step", "end_step", "other"}

func (r Rank) String() string {
	if r < 0 || int(r) >= len(rankNames) {
		return fmt.Sprintf("rank(%d)", int(r))
	}
	return rankNames[r]
}

// ParseRank converts a rank name back to a Rank.
func ParseRank(s string) (Rank, error) {
	for i, name := range rankNames {
		if name == s {
			return Rank(i), nil
		}
	}
	return RankOther, fmt.Errorf("fact: unknown rank %q", s)
}

func (r Rank) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Rank) UnmarshalText(b []byte) error {
	v, err := ParseRank(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}
