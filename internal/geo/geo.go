package geo

import (
	"math"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// earthRadiusMiles matches the display convention of the rider app.
const earthRadiusMiles = 3958.8

// DistanceMiles returns the great-circle distance between two
// coordinates in miles. Pure and symmetric; used only to annotate
// offers for display.
func DistanceMiles(a, b models.Coordinate) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(b.Latitude - a.Latitude)
	dLon := toRad(b.Longitude - a.Longitude)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Latitude))*math.Cos(toRad(b.Latitude))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMiles * c
}

// DistanceMeters is the same formula in meters, used by the simulator's
// nearby-driver selection.
func DistanceMeters(a, b models.Coordinate) float64 {
	const earthRadiusMeters = 6371000.0
	return DistanceMiles(a, b) / earthRadiusMiles * earthRadiusMeters
}

// Pool is the minimal driver-pool interface the simulator needs.
type Pool interface {
	Nearby(at models.Coordinate, limit int) []models.Driver
	Upsert(d models.Driver)
}

// Index is the in-memory Pool used when no Redis is configured.
type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.Driver)}
}

func (g *Index) Upsert(d models.Driver) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d.Updated = time.Now()
	g.drivers[d.ID] = d
}

// naive scan; fine for a local pool of scripted drivers
func (g *Index) Nearby(at models.Coordinate, limit int) []models.Driver {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		d    models.Driver
		dist float64
	}
	arr := make([]pair, 0, len(g.drivers))
	for _, d := range g.drivers {
		if !d.Online {
			continue
		}
		arr = append(arr, pair{d, DistanceMeters(at, d.Loc)})
	}
	n := limit
	if n > len(arr) {
		n = len(arr)
	}
	// partial selection sort for top-N
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.Driver, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].d)
	}
	return out
}
