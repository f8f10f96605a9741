package graph

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleWorkflow = `{
  "448": {"inputs": {"image": "cut_00003_.png", "upload": "image"}, "class_type": "LoadImage"},
  "449": {"inputs": {"image": "ComfyUI_temp_rnpvx_00002_.png", "upload": "image"}, "class_type": "LoadImage"},
  "458": {"inputs": {"filename_prefix": "ComfyUI", "images": ["457", 0]}, "class_type": "SaveImage"}
}`

func TestParse(t *testing.T) {
	tmpl, err := Parse([]byte(sampleWorkflow))
	require.NoError(t, err)
	assert.Equal(t, 3, tmpl.Len())
	assert.NoError(t, tmpl.Validate("448", "449", "458"))
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("not json"))
	assert.Error(t, err)

	_, err = Parse([]byte("{}"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflow_api.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleWorkflow), 0o644))

	tmpl, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, tmpl.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestValidate_MissingNode(t *testing.T) {
	tmpl, err := Parse([]byte(sampleWorkflow))
	require.NoError(t, err)

	err = tmpl.Validate("448", "1000")
	assert.ErrorIs(t, err, ErrNodeNotFound)
	assert.Contains(t, err.Error(), "1000")
}

func TestInstantiate_IsolatesJobs(t *testing.T) {
	tmpl, err := Parse([]byte(sampleWorkflow))
	require.NoError(t, err)

	first, err := tmpl.Instantiate()
	require.NoError(t, err)
	require.NoError(t, first.SetInput("448", "image", "job-a_head.png"))

	second, err := tmpl.Instantiate()
	require.NoError(t, err)

	v, ok := second.Input("448", "image")
	require.True(t, ok)
	assert.Equal(t, "cut_00003_.png", v)

	v, ok = first.Input("448", "image")
	require.True(t, ok)
	assert.Equal(t, "job-a_head.png", v)
}

func TestSetInput(t *testing.T) {
	tmpl, err := Parse([]byte(sampleWorkflow))
	require.NoError(t, err)
	g, err := tmpl.Instantiate()
	require.NoError(t, err)

	require.NoError(t, g.SetInput("449", "image", "job-a_body.png"))
	v, _ := g.Input("449", "image")
	assert.Equal(t, "job-a_body.png", v)

	// Untouched fields stay as authored
	v, _ = g.Input("449", "upload")
	assert.Equal(t, "image", v)

	assert.ErrorIs(t, g.SetInput("1", "image", "x"), ErrNodeNotFound)
	assert.True(t, g.HasNode("458"))
	assert.False(t, g.HasNode("1"))
}

func TestSetInput_NoInputs(t *testing.T) {
	tmpl, err := Parse([]byte(`{"1": {"class_type": "Note"}}`))
	require.NoError(t, err)
	g, err := tmpl.Instantiate()
	require.NoError(t, err)

	assert.ErrorIs(t, g.SetInput("1", "image", "x"), ErrNoInputs)
}

func TestInstantiate_KeepsLargeIntegers(t *testing.T) {
	tmpl, err := Parse([]byte(`{"3": {"inputs": {"seed": 18446744073709551614, "steps": 20, "cfg": 7.5}, "class_type": "KSampler"}}`))
	require.NoError(t, err)
	g, err := tmpl.Instantiate()
	require.NoError(t, err)

	seed, ok := g.Input("3", "seed")
	require.True(t, ok)
	assert.Equal(t, json.Number("18446744073709551614"), seed)

	data, err := json.Marshal(g)
	require.NoError(t, err)
	assert.JSONEq(t, `{"3": {"inputs": {"seed": 18446744073709551614, "steps": 20, "cfg": 7.5}, "class_type": "KSampler"}}`, string(data))
	assert.Contains(t, string(data), `"seed":18446744073709551614`)
}
