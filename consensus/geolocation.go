package consensus

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/dataparency-dev/verification-core/types"
)

// GeolocationResult is a claimed coordinate pair to verify.
type GeolocationResult struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type geolocationHandler struct{}

func (geolocationHandler) ValidateFormat(raw []byte) error {
	var r GeolocationResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidSubmission, err)
	}
	if r.Lat < -90 || r.Lat > 90 || r.Lon < -180 || r.Lon > 180 {
		return fmt.Errorf("%w: coordinate out of range", types.ErrInvalidSubmission)
	}
	return nil
}

func (geolocationHandler) Decode(raw []byte) (any, error) {
	var r GeolocationResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidSubmission, err)
	}
	return r, nil
}

func (geolocationHandler) Encode(v any) ([]byte, error) { return json.Marshal(v) }

func (geolocationHandler) Equal(a, b any) bool {
	ar, aok := a.(GeolocationResult)
	br, bok := b.(GeolocationResult)
	return aok && bok && ar.Lat == br.Lat && ar.Lon == br.Lon
}

// Aggregate takes the weighted centroid of the claimed coordinates.
func (geolocationHandler) Aggregate(values []WeightedValue) (any, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no submissions to aggregate", types.ErrInsufficientSubmissions)
	}
	lat := weightedAverage(values, func(v any) float64 { return v.(GeolocationResult).Lat })
	lon := weightedAverage(values, func(v any) float64 { return v.(GeolocationResult).Lon })
	return GeolocationResult{Lat: lat, Lon: lon}, nil
}

// haversineKm is the great-circle distance in kilometers.
func haversineKm(a, b GeolocationResult) float64 {
	const earthRadiusKm = 6371.0
	lat1, lon1 := a.Lat*math.Pi/180, a.Lon*math.Pi/180
	lat2, lon2 := b.Lat*math.Pi/180, b.Lon*math.Pi/180
	dLat := lat2 - lat1
	dLon := lon2 - lon1
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// AccuracyOf decays linearly to 0 at 100km from the consensus centroid.
func (geolocationHandler) AccuracyOf(value, consensus any) float64 {
	v, ok1 := value.(GeolocationResult)
	c, ok2 := consensus.(GeolocationResult)
	if !ok1 || !ok2 {
		return 0
	}
	const maxKm = 100.0
	d := haversineKm(v, c)
	acc := 1 - d/maxKm
	if acc < 0 {
		acc = 0
	}
	return acc
}

func init() {
	register(types.TaskTypeGeolocationVerify, geolocationHandler{})
}
