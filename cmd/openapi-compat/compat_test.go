package main

import (
	"testing"

	"marketplace/docs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseYAML = `
swagger: "2.0"
paths:
  /chat/init:
    post:
      responses:
        "201": {}
        "409": {}
  /chat/{chatId}/read:
    patch:
      responses:
        "200": {}
`

func TestCompare(t *testing.T) {
	base, err := parseSpec([]byte(baseYAML))
	require.NoError(t, err)

	t.Run("identical", func(t *testing.T) {
		assert.Empty(t, compare(base, base))
	})

	t.Run("removals", func(t *testing.T) {
		revision, err := parseSpec([]byte(`
paths:
  /chat/init:
    post:
      responses:
        "201": {}
`))
		require.NoError(t, err)
		assert.Equal(t, []string{
			"removed path: /chat/{chatId}/read",
			"removed response code: POST /chat/init -> 409",
		}, compare(base, revision))
	})
}

func TestParseSpec_Invalid(t *testing.T) {
	_, err := parseSpec([]byte("swagger: \"2.0\"\n"))
	assert.EqualError(t, err, "missing top-level paths field")

	_, err = parseSpec([]byte("paths: [1, 2]\n"))
	assert.EqualError(t, err, "paths is not an object")
}

func TestEmbeddedDocsCoverChatRoutes(t *testing.T) {
	spec, err := parseSpec([]byte(docs.SwaggerInfo.ReadDoc()))
	require.NoError(t, err)
	assert.Empty(t, missingRoutes(spec, chatRoutes))
}

func TestMissingRoutes(t *testing.T) {
	spec, err := parseSpec([]byte(baseYAML))
	require.NoError(t, err)
	issues := missingRoutes(spec, []route{{"post", "/chat/init"}, {"get", "/chat/check"}})
	assert.Equal(t, []string{"undocumented route: GET /chat/check"}, issues)
}
