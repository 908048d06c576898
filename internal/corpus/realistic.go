package corpus

import (
	"fmt"
	"math/rand"
)

// The realistic template replaces the flat binary blob with a fixed nested
// shape: five levels of subdocuments mixing strings, numbers and arrays.
// The shape never varies between documents or backends; only the seeded leaf
// values do, which keeps realistic-mode corpora reproducible.

var sampleWords = []string{
	"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf",
	"hotel", "india", "juliett", "kilo", "lima", "mike", "november",
	"oscar", "papa", "quebec", "romeo", "sierra", "tango",
}

var sampleCategories = []string{"news", "science", "sports", "finance", "culture"}

func word(rng *rand.Rand) string {
	return sampleWords[rng.Intn(len(sampleWords))]
}

func sentence(rng *rand.Rand, n int) string {
	s := word(rng)
	for i := 1; i < n; i++ {
		s += " " + word(rng)
	}
	return s
}

func realisticBody(rng *rand.Rand, seq int) map[string]any {
	tags := make([]any, 3)
	for i := range tags {
		tags[i] = word(rng)
	}

	revisions := make([]any, 2)
	for i := range revisions {
		revisions[i] = map[string]any{
			"rev":     i + 1,
			"editor":  word(rng),
			"summary": sentence(rng, 4),
		}
	}

	// Depth 5: body -> author -> contact -> address -> geo.
	return map[string]any{
		"title":    sentence(rng, 5),
		"category": sampleCategories[rng.Intn(len(sampleCategories))],
		"seq":      seq,
		"views":    rng.Intn(100000),
		"score":    float64(rng.Intn(1000)) / 100,
		"tags":     tags,
		"author": map[string]any{
			"name":   fmt.Sprintf("%s %s", word(rng), word(rng)),
			"handle": fmt.Sprintf("@%s%d", word(rng), rng.Intn(1000)),
			"contact": map[string]any{
				"email": fmt.Sprintf("%s@example.com", word(rng)),
				"phone": fmt.Sprintf("+1-555-%04d", rng.Intn(10000)),
				"address": map[string]any{
					"city":    word(rng),
					"country": word(rng),
					"geo": map[string]any{
						"lat": float64(rng.Intn(18000))/100 - 90,
						"lon": float64(rng.Intn(36000))/100 - 180,
					},
				},
			},
		},
		"revisions": revisions,
	}
}
