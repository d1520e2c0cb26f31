package flowstore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flowcanvas/errors"
)

func TestDecode(t *testing.T) {
	valid, err := json.Marshal(journey("j1"))
	require.NoError(t, err)

	doc, err := Decode(valid)
	require.NoError(t, err)
	assert.Equal(t, "j1", doc.ID)
	assert.Len(t, doc.Connections, 2)
}

func TestValidateDocumentJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
		field   string
	}{
		{
			name:  "minimal",
			input: `{"id":"d","nodes":[],"connections":[]}`,
		},
		{
			name:    "missing id",
			input:   `{"nodes":[],"connections":[]}`,
			wantErr: errors.ErrValidationFailed,
			field:   "id",
		},
		{
			name:    "node without position",
			input:   `{"id":"d","nodes":[{"id":"n","type":"sms"}],"connections":[]}`,
			wantErr: errors.ErrValidationFailed,
			field:   "position",
		},
		{
			name:    "numeric node type",
			input:   `{"id":"d","nodes":[{"id":"n","type":3,"position":{"x":0,"y":0}}],"connections":[]}`,
			wantErr: errors.ErrValidationFailed,
			field:   "nodes.0.type",
		},
		{
			name:    "connection without target",
			input:   `{"id":"d","nodes":[],"connections":[{"id":"e","sourceNodeId":"a"}]}`,
			wantErr: errors.ErrValidationFailed,
			field:   "targetNodeId",
		},
		{
			name:    "not json",
			input:   `{"id":`,
			wantErr: errors.ErrDataCorrupted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocumentJSON([]byte(tt.input))
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, errors.IsInvalid(err))
			if tt.field != "" {
				assert.Contains(t, err.Error(), tt.field)
			}
		})
	}
}

func TestDecode_RejectsDanglingConnection(t *testing.T) {
	input := `{"id":"d","nodes":[{"id":"a","type":"start","position":{"x":0,"y":0}}],
		"connections":[{"id":"e","sourceNodeId":"a","targetNodeId":"b"}]}`

	_, err := Decode([]byte(input))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "non-existent target node")
}
