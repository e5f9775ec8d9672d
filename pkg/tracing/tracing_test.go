package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestParseAttributes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]string
	}{
		{"empty", "", map[string]string{}},
		{"single", "service.namespace=mediadrop", map[string]string{"service.namespace": "mediadrop"}},
		{"spaces and blanks", " a = 1 , ,b=2", map[string]string{"a": "1", "b": "2"}},
		{"missing equals skipped", "a=1,broken,c=3", map[string]string{"a": "1", "c": "3"}},
		{"value keeps later equals", "q=x=y", map[string]string{"q": "x=y"}},
		{"empty key skipped", "=v", map[string]string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAttributes(tt.raw))
		})
	}
}

func TestResourceAttributes(t *testing.T) {
	attrs := ResourceAttributes(Config{
		ServiceName:    "mediadrop-intake",
		ServiceVersion: "1.2.3",
		Environment:    "staging",
		Attributes:     map[string]string{"team": "media"},
	})

	got := map[attribute.Key]string{}
	for _, kv := range attrs {
		got[kv.Key] = kv.Value.AsString()
	}
	assert.Equal(t, "mediadrop-intake", got["service.name"])
	assert.Equal(t, "1.2.3", got["service.version"])
	assert.Equal(t, "staging", got["deployment.environment"])
	assert.Equal(t, "media", got["team"])
}

func TestInit_EmptyEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
