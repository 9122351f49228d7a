package render

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	TeamID string `json:"team_id"`
	Name   string `json:"name"`
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatTable, f)

	f, err = ParseFormat(" JSON ")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestRenderTable(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	r := NewRenderer(&buf, Options{})
	require.NoError(t, r.Render(nil, []string{"ID", "NAME"}, [][]string{{"a1", "Águilas"}, {"b22", "Rush"}}))

	assert.Equal(t, "ID   NAME\n---  -------\na1   Águilas\nb22  Rush\n", buf.String())
}

func TestRenderTable_Porcelain(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, Options{Porcelain: true})
	require.NoError(t, r.RenderTable([]string{"ID", "NAME"}, [][]string{{"a1", "Eagles"}}))
	assert.Equal(t, "ID\tNAME\na1\tEagles\n", buf.String())
}

func TestRenderTable_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewRenderer(&buf, Options{}).RenderTable([]string{"ID"}, nil))
	assert.Empty(t, buf.String())
}

func TestRenderStructured(t *testing.T) {
	data := []row{{TeamID: "a1", Name: "Eagles"}}

	var buf bytes.Buffer
	r := NewRenderer(&buf, Options{Format: FormatJSON, Porcelain: true})
	assert.True(t, r.Structured())
	require.NoError(t, r.Render(data, nil, nil))
	assert.JSONEq(t, `[{"team_id":"a1","name":"Eagles"}]`, buf.String())

	buf.Reset()
	r = NewRenderer(&buf, Options{Format: FormatYAML})
	require.NoError(t, r.Render(data, nil, nil))
	assert.Equal(t, "- name: Eagles\n  team_id: a1\n", buf.String())
}
