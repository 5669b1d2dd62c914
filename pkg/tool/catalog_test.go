package tool

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fileDef = Definition{
	Name:        "create_file",
	Description: "Create a file in the scratch pad",
	Parameters: []ParamSpec{
		{Name: "FileName", Description: "Name of the file", Type: TypeString, Required: true},
		{Name: "Mode", Type: TypeString, Enum: []string{"text", "markdown"}},
		{Name: "Tags", Type: TypeArray, Items: &ParamSpec{Type: TypeString}},
	},
}

func TestBuildCatalogChatShape(t *testing.T) {
	catalog, err := BuildCatalog([]Definition{fileDef}, ShapeChat)
	require.NoError(t, err)
	require.Len(t, catalog, 1)

	data, err := json.Marshal(catalog[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "function",
		"function": {
			"name": "create_file",
			"description": "Create a file in the scratch pad",
			"parameters": {
				"type": "object",
				"properties": {
					"file_name": {"type": "string", "description": "Name of the file"},
					"mode": {"type": "string", "enum": ["text", "markdown"]},
					"tags": {"type": "array", "items": {"type": "string"}}
				},
				"required": ["file_name"]
			}
		}
	}`, string(data))
}

func TestBuildCatalogFlatShape(t *testing.T) {
	catalog, err := BuildCatalog([]Definition{{Name: "get_current_time", Description: "Now"}}, ShapeFlat)
	require.NoError(t, err)
	require.Len(t, catalog, 1)

	data, err := json.Marshal(catalog[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "function",
		"name": "get_current_time",
		"description": "Now",
		"parameters": {"type": "object", "properties": {}, "required": []}
	}`, string(data))
}

func TestBuildCatalogEmpty(t *testing.T) {
	catalog, err := BuildCatalog(nil, ShapeChat)
	require.NoError(t, err)
	assert.Empty(t, catalog)
}
