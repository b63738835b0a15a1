package render

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, Options{Format: FormatTable})

	require.NoError(t, r.Render(nil, []string{"BATCH", "READ"}, [][]string{{"b12", "10"}, {"b15-long", "2"}}))
	assert.Equal(t, "BATCH     READ\n--------  ----\nb12       10\nb15-long  2\n", buf.String())
}

func TestRenderTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, Options{Format: FormatTable})
	require.NoError(t, r.RenderTable([]string{"A"}, nil))
	assert.Empty(t, buf.String())
}

func TestRenderPorcelainTable(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, Options{Format: FormatTable, Porcelain: true})
	require.NoError(t, r.RenderTable([]string{"A", "B"}, [][]string{{"1", "2"}}))
	assert.Equal(t, "A\tB\n1\t2\n", buf.String())
}

func TestRenderStructured(t *testing.T) {
	data := map[string]int{"read": 2}

	var buf bytes.Buffer
	r := NewRenderer(&buf, Options{Format: FormatJSON})
	assert.True(t, r.Structured())
	require.NoError(t, r.Render(data, nil, nil))
	assert.JSONEq(t, `{"read": 2}`, buf.String())

	buf.Reset()
	r = NewRenderer(&buf, Options{Format: FormatYAML})
	require.NoError(t, r.Render(data, nil, nil))
	assert.YAMLEq(t, "read: 2\n", buf.String())
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatTable, f)

	f, err = ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}
