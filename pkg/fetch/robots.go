package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// RobotsGate fetches, caches and checks robots.txt per host.
// Hosts whose robots.txt cannot be obtained are treated as allowing everything.
type RobotsGate struct {
	fetcher     *Fetcher
	userAgent   string
	robotsCache map[string]*robotstxt.RobotsData // hostname -> parsed data (or nil)
	mu          sync.Mutex
	log         *logrus.Entry
}

// NewRobotsGate creates a RobotsGate
func NewRobotsGate(fetcher *Fetcher, userAgent string, log *logrus.Entry) *RobotsGate {
	return &RobotsGate{
		fetcher:     fetcher,
		userAgent:   userAgent,
		robotsCache: make(map[string]*robotstxt.RobotsData),
		log:         log,
	}
}

// Allowed reports whether targetURL may be fetched by the configured agent
func (g *RobotsGate) Allowed(ctx context.Context, targetURL *url.URL) bool {
	data := g.robotsData(ctx, targetURL)
	if data == nil {
		return true
	}
	return data.TestAgent(targetURL.RequestURI(), g.userAgent)
}

func (g *RobotsGate) robotsData(ctx context.Context, targetURL *url.URL) *robotstxt.RobotsData {
	host := targetURL.Host

	g.mu.Lock()
	data, found := g.robotsCache[host]
	g.mu.Unlock()
	if found {
		return data
	}

	robotsURL := &url.URL{Scheme: targetURL.Scheme, Host: host, Path: "/robots.txt"}
	if robotsURL.Scheme != "http" && robotsURL.Scheme != "https" {
		robotsURL.Scheme = "https"
	}
	robotsLog := g.log.WithField("robots_url", robotsURL.String())
	robotsLog.Debug("Fetching robots.txt...")

	data = g.fetch(ctx, robotsURL, robotsLog)

	g.mu.Lock()
	g.robotsCache[host] = data // nil caches the failure too
	g.mu.Unlock()
	return data
}

func (g *RobotsGate) fetch(ctx context.Context, robotsURL *url.URL, robotsLog *logrus.Entry) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		robotsLog.Warnf("Error creating request: %v", err)
		return nil
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.fetcher.FetchWithRetry(ctx, req)
	if err != nil {
		robotsLog.Debugf("Fetching robots.txt failed, allowing all: %v", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		robotsLog.Warnf("Error reading body: %v", err)
		return nil
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		robotsLog.Warnf("Error parsing content: %v", err)
		return nil
	}
	return data
}
