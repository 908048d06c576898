package pg

import (
	"encoding/json"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbench/docbench/internal/corpus"
)

func TestTargetsExpr(t *testing.T) {
	jsonb := &Adapter{columnType: "jsonb"}
	assert.Equal(t, "doc->'targets'", jsonb.targetsExpr("doc"))

	plain := &Adapter{columnType: "json"}
	assert.Equal(t, "(doc::jsonb)->'targets'", plain.targetsExpr("doc"))
}

func TestDocBody(t *testing.T) {
	doc := corpus.Document{
		ID:      "doc-1",
		Payload: map[string][]byte{corpus.AttrName(0): {1, 2, 3}},
		Targets: []string{"doc-2"},
	}

	body := docBody(doc, false)
	assert.Equal(t, []string{"doc-2"}, body["targets"])

	// Byte attributes round-trip through json as base64 strings, which is
	// how SampleValidate compares stored rows against the generator output.
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "AQID", decoded["data0"])
}

func TestDocBodyStripTargets(t *testing.T) {
	doc := corpus.Document{
		ID:      "doc-1",
		Payload: map[string][]byte{corpus.AttrName(0): {1}},
		Targets: []string{"doc-2"},
	}

	body := docBody(doc, true)
	_, ok := body["targets"]
	assert.False(t, ok)
}

func TestIdent(t *testing.T) {
	assert.Equal(t, `"documents"`, ident("documents"))
	assert.Equal(t, `"weird""name"`, ident(`weird"name`))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"cannot connect now", &pgconn.PgError{Code: pgerrcode.CannotConnectNow}, true},
		{"serialization failure", &pgconn.PgError{Code: pgerrcode.SerializationFailure}, true},
		{"unique violation", &pgconn.PgError{Code: pgerrcode.UniqueViolation}, false},
		{"undefined table", &pgconn.PgError{Code: pgerrcode.UndefinedTable}, false},
		{"network error without sqlstate", assert.AnError, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isTransient(tc.err))
		})
	}
}
