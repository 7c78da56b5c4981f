package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisPool implements Pool on Redis GEO commands so several simulator
// instances (and the driverfeed consumer) can share one driver set.
type RedisPool struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisPool(addr, password, key string) *RedisPool {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisPool{client: c, key: key, ctx: context.Background()}
}

func (r *RedisPool) Upsert(d models.Driver) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{
		Longitude: d.Loc.Longitude,
		Latitude:  d.Loc.Latitude,
		Name:      d.ID,
	}).Result()
	_ = r.client.HSet(r.ctx, metaKey(d.ID), map[string]interface{}{
		"name":    d.Name,
		"rating":  strconv.FormatFloat(d.Rating, 'f', -1, 64),
		"car":     d.Vehicle,
		"plate":   d.Plate,
		"online":  strconv.FormatBool(d.Online),
		"updated": time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisPool) Nearby(at models.Coordinate, limit int) []models.Driver {
	res, err := r.client.GeoRadius(r.ctx, r.key, at.Longitude, at.Latitude, &redis.GeoRadiusQuery{
		Radius: 10000, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.Driver, 0, len(res))
	for _, g := range res {
		d := models.Driver{ID: g.Name}
		d.Loc.Latitude = g.Latitude
		d.Loc.Longitude = g.Longitude
		if m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result(); err == nil {
			d.Name = m["name"]
			d.Vehicle = m["car"]
			d.Plate = m["plate"]
			if v, ok := m["rating"]; ok {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					d.Rating = f
				}
			}
			d.Online = m["online"] == "true"
		}
		if !d.Online {
			continue
		}
		out = append(out, d)
	}
	return out
}

func metaKey(id string) string { return "driver:meta:" + id }
