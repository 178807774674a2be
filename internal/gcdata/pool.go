package gcdata

import (
	"errors"
	"fmt"
	"math/rand"
	"os"

	"gopkg.in/yaml.v3"
)

// Sentinel errors for proxy pool handling.
var (
	// ErrEmptyPool is returned when no usable proxy is configured.
	ErrEmptyPool = errors.New("retrieval proxy pool is empty")
)

// Proxy is one retrieval endpoint with a selection weight. Healthier or
// better-provisioned proxies get higher weights.
type Proxy struct {
	URL    string `yaml:"url"`
	Weight int    `yaml:"weight"`
}

type poolFile struct {
	Proxies []Proxy `yaml:"proxies"`
}

// LoadPool reads the proxy pool definition from a YAML file.
func LoadPool(path string) ([]Proxy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read proxy pool: %w", err)
	}

	var file poolFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse proxy pool: %w", err)
	}

	return file.Proxies, nil
}

// Pool selects proxies at random, proportionally to their weights.
type Pool struct {
	proxies []Proxy
	total   int
	intn    func(n int) int
}

// NewPool builds a pool from the given proxies. Entries without a weight
// default to one; entries with a negative weight are rejected.
func NewPool(proxies []Proxy) (*Pool, error) {
	pool := &Pool{intn: rand.Intn}

	for _, p := range proxies {
		if p.URL == "" {
			continue
		}

		if p.Weight < 0 {
			return nil, fmt.Errorf("proxy %s has negative weight %d", p.URL, p.Weight)
		}

		if p.Weight == 0 {
			p.Weight = 1
		}

		pool.proxies = append(pool.proxies, p)
		pool.total += p.Weight
	}

	if len(pool.proxies) == 0 {
		return nil, ErrEmptyPool
	}

	return pool, nil
}

// Size returns the number of proxies in the pool.
func (p *Pool) Size() int {
	return len(p.proxies)
}

// Pick returns a weighted-random proxy URL. Every retry attempt picks again,
// so a broken proxy cannot pin a match.
func (p *Pool) Pick() string {
	n := p.intn(p.total)

	for _, proxy := range p.proxies {
		n -= proxy.Weight
		if n < 0 {
			return proxy.URL
		}
	}

	return p.proxies[len(p.proxies)-1].URL
}
