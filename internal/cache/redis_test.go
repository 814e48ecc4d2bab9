package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"busfleet/internal/domain"
)

func manyStops() []domain.Stop {
	stops := make([]domain.Stop, 200)
	for i := range stops {
		stops[i] = domain.Stop{ID: "s", Name: "Connaught Place", Lat: 28.6315, Lng: 77.2167, City: "Delhi"}
	}
	return stops
}

func TestEncodeDecodeValue(t *testing.T) {
	stops := manyStops()

	plain, err := encodeValue(stops, false)
	require.NoError(t, err)
	assert.Equal(t, encodingJSON, plain[0])

	packed, err := encodeValue(stops, true)
	require.NoError(t, err)
	assert.Equal(t, encodingGzip, packed[0])
	assert.Less(t, len(packed), len(plain))

	for _, data := range [][]byte{plain, packed} {
		var out []domain.Stop
		require.NoError(t, decodeValue(data, &out))
		assert.Equal(t, stops, out)
	}
}

func TestDecodeValueRejectsBadEntries(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "unknown encoding", data: []byte(`x[]`)},
		{name: "bad gzip", data: append([]byte{encodingGzip}, "not gzip"...)},
		{name: "bad json", data: append([]byte{encodingJSON}, "{"...)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out []domain.Stop
			assert.Error(t, decodeValue(tc.data, &out))
		})
	}
}

func TestRedisCacheKey(t *testing.T) {
	c := &RedisCache{prefix: DefaultPrefix}
	assert.Equal(t, "busfleet:stops", c.key(KeyStops))
	assert.Equal(t, "busfleet:route:r1:stops", c.key(KeyRouteStops("r1")))
}
