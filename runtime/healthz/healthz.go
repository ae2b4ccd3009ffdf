// Package healthz implements spec §6's health endpoint: GET /health →
// {status, service, version}. It aggregates every backend adapter's
// goa.design/clue/health.Pinger (the same interface the Mongo, Redis, and
// Pulse-backed adapters across this module already implement) behind a
// single Checker.
package healthz

import (
	"context"
	"sync"

	"goa.design/clue/health"
)

// Status is the wire shape of the health response.
type Status struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
)

// Checker aggregates a fixed set of Pingers into a single health report for
// the fabric process.
type Checker struct {
	service string
	version string
	pingers []health.Pinger
}

// New returns a Checker that reports service/version in every response and
// pings each of pingers to decide overall status. A nil or empty pingers is
// valid: the process reports healthy with nothing to ping.
func New(service, version string, pingers ...health.Pinger) *Checker {
	return &Checker{service: service, version: version, pingers: pingers}
}

// Check pings every registered backend concurrently and returns the
// aggregate Status plus the per-backend failures, if any. A single slow or
// unreachable backend never blocks the others.
func (c *Checker) Check(ctx context.Context) (Status, map[string]error) {
	status := Status{Status: statusHealthy, Service: c.service, Version: c.version}
	if len(c.pingers) == 0 {
		return status, nil
	}

	var (
		mu       sync.Mutex
		failures map[string]error
		wg       sync.WaitGroup
	)
	wg.Add(len(c.pingers))
	for _, p := range c.pingers {
		go func(p health.Pinger) {
			defer wg.Done()
			if err := p.Ping(ctx); err != nil {
				mu.Lock()
				if failures == nil {
					failures = make(map[string]error, len(c.pingers))
				}
				failures[p.Name()] = err
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()

	if len(failures) > 0 {
		status.Status = statusDegraded
	}
	return status, failures
}

// namedPinger adapts a bare name/ping pair to health.Pinger, for backends
// wired into the checker without owning their own Pinger method set (e.g. a
// closure over a function dependency rather than a struct).
type namedPinger struct {
	name string
	ping func(context.Context) error
}

func (p namedPinger) Name() string                   { return p.name }
func (p namedPinger) Ping(ctx context.Context) error { return p.ping(ctx) }

// NamedPinger builds a health.Pinger from a plain name and ping function.
func NamedPinger(name string, ping func(context.Context) error) health.Pinger {
	return namedPinger{name: name, ping: ping}
}
