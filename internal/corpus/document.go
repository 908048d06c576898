package corpus

import "fmt"

// Document is one synthetic record handed to every backend under test.
// Exactly one of Payload / Realistic is populated, depending on the
// generator's mode.
type Document struct {
	// ID is unique within a run and stable for a given seed and position.
	ID string

	// Payload holds the flat binary attributes. The combined byte length
	// of all attributes equals the configured payload size.
	Payload map[string][]byte

	// Realistic holds the nested template body used in realistic-data mode.
	Realistic map[string]any

	// Targets drives containment, in-condition and join queries. Sampled
	// with replacement from the run's id space, so duplicates are expected.
	Targets []string
}

// AttrName returns the attribute name for split-payload slice i.
func AttrName(i int) string {
	return fmt.Sprintf("data%d", i)
}
