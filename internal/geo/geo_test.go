package geo

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lng1, lat2, lng2 float64
		want                   float64
		delta                  float64
	}{
		{
			name: "identical points",
			lat1: 28.6562, lng1: 77.2410, lat2: 28.6562, lng2: 77.2410,
			want: 0, delta: 0,
		},
		{
			name: "one degree of latitude",
			lat1: 0, lng1: 0, lat2: 1, lng2: 0,
			want: 111.195, delta: 0.01,
		},
		{
			name: "red fort to india gate",
			lat1: 28.6562, lng1: 77.2410, lat2: 28.6129, lng2: 77.2295,
			want: 4.94, delta: 0.05,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, Distance(tc.lat1, tc.lng1, tc.lat2, tc.lng2), tc.delta)
		})
	}
}

func TestDistance_SymmetricAndZero(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 500; i++ {
		lat1, lng1 := r.Float64()*180-90, r.Float64()*360-180
		lat2, lng2 := r.Float64()*180-90, r.Float64()*360-180

		assert.InDelta(t, Distance(lat1, lng1, lat2, lng2), Distance(lat2, lng2, lat1, lng1), 1e-9)
		assert.Equal(t, 0.0, Distance(lat1, lng1, lat1, lng1))
	}
}

func TestInterpolate(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 200; i++ {
		sLat, sLng := r.Float64()*180-90, r.Float64()*360-180
		eLat, eLng := r.Float64()*180-90, r.Float64()*360-180

		lat, lng := Interpolate(sLat, sLng, eLat, eLng, 0)
		assert.Equal(t, sLat, lat)
		assert.Equal(t, sLng, lng)

		lat, lng = Interpolate(sLat, sLng, eLat, eLng, 1)
		assert.Equal(t, eLat, lat)
		assert.Equal(t, eLng, lng)
	}

	lat, lng := Interpolate(10, 20, 20, 40, 0.25)
	assert.InDelta(t, 12.5, lat, 1e-12)
	assert.InDelta(t, 25.0, lng, 1e-12)
}

func TestInterpolate_EndpointsExact(t *testing.T) {
	r := rand.New(rand.NewPCG(5, 6))
	mismatches := 0
	for i := 0; i < 100_000; i++ {
		sLat, sLng := r.Float64()*180-90, r.Float64()*360-180
		eLat, eLng := r.Float64()*180-90, r.Float64()*360-180

		if lat, lng := Interpolate(sLat, sLng, eLat, eLng, 0); lat != sLat || lng != sLng {
			mismatches++
		}
		if lat, lng := Interpolate(sLat, sLng, eLat, eLng, 1); lat != eLat || lng != eLng {
			mismatches++
		}
	}
	assert.Zero(t, mismatches)
}
