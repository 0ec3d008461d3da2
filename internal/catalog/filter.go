package catalog

import (
	"sort"
	"strings"
)

// Filter narrows the active catalog.
type Filter struct {
	Platform string
	Query    string
	Limit    int
}

type scoredService struct {
	Item  Service
	Score int
}

func filterServices(items []Service, f Filter) []Service {
	platform := strings.TrimSpace(strings.ToLower(f.Platform))
	tokens := tokenizeQuery(strings.TrimSpace(strings.ToLower(f.Query)))

	if len(tokens) == 0 {
		res := make([]Service, 0, len(items))
		for _, item := range items {
			if platform == "" || strings.EqualFold(item.Platform, platform) {
				res = append(res, item)
			}
		}
		sort.SliceStable(res, func(i, j int) bool {
			if res[i].Platform == res[j].Platform {
				return res[i].PricePer1000.LessThan(res[j].PricePer1000)
			}
			return res[i].Platform < res[j].Platform
		})
		return topN(res, f.Limit)
	}

	var scored []scoredService
	for _, item := range items {
		if score := matchScore(item, tokens, platform); score > 0 {
			scored = append(scored, scoredService{Item: item, Score: score})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score == scored[j].Score {
			return scored[i].Item.PricePer1000.LessThan(scored[j].Item.PricePer1000)
		}
		return scored[i].Score > scored[j].Score
	})

	res := make([]Service, 0, len(scored))
	for _, sc := range scored {
		res = append(res, sc.Item)
	}
	return topN(res, f.Limit)
}

func matchScore(item Service, tokens []string, platform string) int {
	itemPlatform := strings.ToLower(item.Platform)
	if platform != "" && itemPlatform != platform {
		return 0
	}
	name := strings.ToLower(item.Name)
	description := strings.ToLower(item.Description)

	score := 0
	for _, token := range tokens {
		if strings.Contains(name, token) {
			score += 4
		}
		if strings.Contains(itemPlatform, token) {
			score += 3
		}
		if strings.Contains(description, token) {
			score++
		}
	}
	return score
}

func tokenizeQuery(query string) []string {
	if query == "" {
		return nil
	}
	query = strings.NewReplacer(".", " ", ",", " ", "-", " ").Replace(query)
	return strings.Fields(query)
}

func topN(items []Service, n int) []Service {
	if n <= 0 || len(items) <= n {
		return items
	}
	return items[:n]
}
