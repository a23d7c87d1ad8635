package objectstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_RequiresEndpointAndBucket(t *testing.T) {
	_, err := NewClient(WithBucket("b"))
	assert.Error(t, err)

	_, err = NewClient(WithEndpoint("localhost:9000"))
	assert.Error(t, err)
}

func TestNewClient_NoNetworkWithoutCreateBucket(t *testing.T) {
	c, err := NewClient(
		WithEndpoint("localhost:9000"),
		WithBucket("sensor-data"),
		WithCredentials("key", "secret"),
		WithRegion("eu-west-1"),
	)
	require.NoError(t, err)
	assert.Equal(t, "sensor-data", c.Bucket())
}
