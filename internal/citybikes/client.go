// Package citybikes fetches live station state from a CityBikes v2 network
// endpoint, such as https://api.citybik.es/v2/networks/v3-bordeaux.
package citybikes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// NetworkResponse is the top-level feed payload.
type NetworkResponse struct {
	Network Network `json:"network"`
}

// Network carries the station list of one bike-share network.
type Network struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Stations []Station `json:"stations"`
}

// Station is one feed entry. FreeBikes and EmptySlots are pointers because
// the feed reports null for stations that are offline.
type Station struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Timestamp  time.Time    `json:"timestamp"`
	FreeBikes  *int         `json:"free_bikes"`
	EmptySlots *int         `json:"empty_slots"`
	Latitude   float64      `json:"latitude"`
	Longitude  float64      `json:"longitude"`
	Extra      StationExtra `json:"extra"`
}

// StationExtra holds the vendor fields we care about. Slots is the installed
// dock count when the operator publishes it.
type StationExtra struct {
	Slots  int    `json:"slots"`
	Status string `json:"status"`
}

// Client wraps the feed endpoint behind a circuit breaker. There are no
// retries; a failed cycle is skipped and the breaker keeps a flapping feed
// from being hammered until it recovers.
type Client struct {
	http    *http.Client
	url     string
	breaker *gobreaker.CircuitBreaker
}

// NewClient builds a feed client. httpClient may be nil, in which case a
// client with a 30s timeout is used.
func NewClient(httpClient *http.Client, url string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		http: httpClient,
		url:  url,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "citybikes",
			Interval: time.Minute,
			Timeout:  2 * time.Minute,
		}),
	}
}

// FetchNetwork performs a single GET against the feed and decodes the
// network payload.
func (c *Client) FetchNetwork(ctx context.Context) (Network, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request network feed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("network feed returned status %s", resp.Status)
		}

		var payload NetworkResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode network payload: %w", err)
		}
		return payload.Network, nil
	})
	if err != nil {
		return Network{}, err
	}
	return result.(Network), nil
}
