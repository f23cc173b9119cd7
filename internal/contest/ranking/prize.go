package ranking

import "sort"

// Prize is the amount set aside for one rank, in cents.
type Prize struct {
	Rank        int   `json:"rank"`
	AmountCents int64 `json:"amountCents"`
}

// Award is the share of a prize paid to one user.
type Award struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	AmountCents int64  `json:"amountCents"`
}

// SplitPrizes divides each prize equally among the rows holding its rank.
// Leftover cents go one each to the tied rows in row order. Prizes for a rank
// no row holds are not paid. Several prizes for the same rank are added up.
func SplitPrizes(rows []Row, prizes []Prize) []Award {
	pool := make(map[int]int64)
	for _, p := range prizes {
		if p.Rank <= 0 || p.AmountCents <= 0 {
			continue
		}
		pool[p.Rank] += p.AmountCents
	}
	if len(pool) == 0 {
		return []Award{}
	}

	holders := make(map[int][]Row)
	for _, row := range rows {
		if _, ok := pool[row.Rank]; ok {
			holders[row.Rank] = append(holders[row.Rank], row)
		}
	}

	ranks := make([]int, 0, len(holders))
	for rank := range holders {
		ranks = append(ranks, rank)
	}
	sort.Ints(ranks)

	awards := make([]Award, 0, len(rows))
	for _, rank := range ranks {
		tied := holders[rank]
		n := int64(len(tied))
		share, rest := pool[rank]/n, pool[rank]%n
		for i, row := range tied {
			amount := share
			if int64(i) < rest {
				amount++
			}
			awards = append(awards, Award{
				Rank:        rank,
				UserID:      row.UserID,
				Username:    row.Username,
				AmountCents: amount,
			})
		}
	}
	return awards
}
