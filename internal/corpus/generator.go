package corpus

import (
	"encoding/binary"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
)

// Params fixes the shape of one generated corpus. The same Params always
// produce a byte-identical corpus, so every backend under test receives an
// equivalent workload and cross-backend numbers stay comparable.
type Params struct {
	Count        int
	PayloadSize  int
	NumAttrs     int
	SplitPayload bool
	Realistic    bool
	QueryLinks   int
	Seed         int64
}

func (p Params) validate() error {
	if p.Count <= 0 {
		return fmt.Errorf("document count must be positive, got %d", p.Count)
	}
	if !p.Realistic && p.PayloadSize < 0 {
		return fmt.Errorf("payload size must be non-negative, got %d", p.PayloadSize)
	}
	if p.SplitPayload && p.NumAttrs <= 0 {
		return fmt.Errorf("split payload requires a positive attribute count, got %d", p.NumAttrs)
	}
	if p.QueryLinks < 0 {
		return fmt.Errorf("query links must be non-negative, got %d", p.QueryLinks)
	}
	return nil
}

// Generator produces seed-deterministic corpora. It is restartable: every
// call to Generate replays the same sequence from the seed.
type Generator struct {
	params    Params
	namespace uuid.UUID
}

func NewGenerator(params Params) (*Generator, error) {
	if err := params.validate(); err != nil {
		return nil, fmt.Errorf("corpus params: %w", err)
	}

	var seedBytes [8]byte
	binary.BigEndian.PutUint64(seedBytes[:], uint64(params.Seed))

	return &Generator{
		params:    params,
		namespace: uuid.NewSHA1(uuid.NameSpaceOID, seedBytes[:]),
	}, nil
}

// Generate materializes the full corpus. Document ids are derived from the
// seed namespace, payload bytes and target samples from a seeded PRNG, so
// two calls with the same Params yield byte-identical documents.
func (g *Generator) Generate() []Document {
	rng := rand.New(rand.NewSource(g.params.Seed))

	ids := make([]string, g.params.Count)
	for i := range ids {
		ids[i] = uuid.NewSHA1(g.namespace, []byte(fmt.Sprintf("doc-%d", i))).String()
	}

	docs := make([]Document, g.params.Count)
	for i := range docs {
		docs[i] = Document{ID: ids[i]}

		if g.params.Realistic {
			docs[i].Realistic = realisticBody(rng, i)
		} else {
			docs[i].Payload = g.payload(rng)
		}

		if g.params.QueryLinks > 0 {
			// Sampling with replacement is deliberate: the resulting
			// target overlap produces slightly different containment
			// counts per backend, which is part of the workload.
			targets := make([]string, g.params.QueryLinks)
			for t := range targets {
				targets[t] = ids[rng.Intn(len(ids))]
			}
			docs[i].Targets = targets
		}
	}

	return docs
}

// IDs returns the id space of the corpus without materializing payloads.
func (g *Generator) IDs() []string {
	ids := make([]string, g.params.Count)
	for i := range ids {
		ids[i] = uuid.NewSHA1(g.namespace, []byte(fmt.Sprintf("doc-%d", i))).String()
	}
	return ids
}

// payload builds the binary attributes for one document. In split mode the
// byte budget is divided into equal slices, with the remainder going to the
// first slice, so the per-attribute sizes always sum to PayloadSize.
func (g *Generator) payload(rng *rand.Rand) map[string][]byte {
	bytes := make([]byte, g.params.PayloadSize)
	rng.Read(bytes)

	if !g.params.SplitPayload || g.params.NumAttrs <= 1 {
		return map[string][]byte{AttrName(0): bytes}
	}

	n := g.params.NumAttrs
	base := g.params.PayloadSize / n
	first := base + g.params.PayloadSize%n

	attrs := make(map[string][]byte, n)
	offset := 0
	for i := 0; i < n; i++ {
		size := base
		if i == 0 {
			size = first
		}
		attrs[AttrName(i)] = bytes[offset : offset+size]
		offset += size
	}
	return attrs
}
