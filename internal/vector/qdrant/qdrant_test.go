package qdrant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/efebarandurmaz/graphsight/internal/vector"
)

func TestPayloadRoundTrip(t *testing.T) {
	doc := vector.Document{
		ID:       "p1",
		Content:  "graph TD\n    A --> B",
		Metadata: map[string]string{"run_id": "r1", "diagram_type": "flowchart"},
	}
	payload := toPayload(doc)
	assert.Len(t, payload, 3)
	assert.Equal(t, "r1", payload["run_id"].GetStringValue())

	content, meta := fromPayload(payload)
	assert.Equal(t, doc.Content, content)
	assert.Equal(t, doc.Metadata, meta)
}

func TestAPIKeyCredentials(t *testing.T) {
	md, err := apiKey("secret").GetRequestMetadata(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, map[string]string{"api-key": "secret"}, md)
	assert.False(t, apiKey("secret").RequireTransportSecurity())
}
