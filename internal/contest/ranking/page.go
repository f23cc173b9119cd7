package ranking

import "strings"

// Page is one slice of a leaderboard.
type Page struct {
	Results []Row `json:"results"`
	Pages   int   `json:"pages"`
}

// Paginate filters rows by a case-insensitive username substring and returns the
// 1-based page. Ranks are kept from the full leaderboard. A page past the end has
// no results.
func Paginate(rows []Row, page, limit int, search string) Page {
	filtered := rows
	if needle := strings.ToLower(strings.TrimSpace(search)); needle != "" {
		filtered = make([]Row, 0, len(rows))
		for _, row := range rows {
			if strings.Contains(strings.ToLower(row.Username), needle) {
				filtered = append(filtered, row)
			}
		}
	}
	out := Page{Results: []Row{}}
	if limit <= 0 || page <= 0 {
		return out
	}
	out.Pages = len(filtered) / limit
	if len(filtered)%limit != 0 {
		out.Pages++
	}
	// Compare page numbers first so huge values never overflow the offset.
	if page > out.Pages {
		return out
	}
	start := (page - 1) * limit
	end := len(filtered)
	if limit < end-start {
		end = start + limit
	}
	out.Results = append(out.Results, filtered[start:end]...)
	return out
}
