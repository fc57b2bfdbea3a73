// Package mgmttest serves a fake device-management API and trust proxy from a
// YAML fleet description.
package mgmttest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"

	"trustcheck/internal/api"
)

const (
	deviceInfoPath   = "/mgmt/shared/identified-devices/config/device-info"
	certificatesPath = "/mgmt/shared/device-certificates"
	trustedProxyPath = "/shared/TrustedProxy"
)

// Device is one device in a fleet fixture.
type Device struct {
	Info         api.DeviceInfo    `yaml:"device"`
	Certificates []api.Certificate `yaml:"certificates"`
	// OmitItems serves the certificate collection without an items key.
	OmitItems bool `yaml:"omitItems"`
}

// Token is a trust token fixture; its timestamp is derived from AgeSeconds at
// request time.
type Token struct {
	TargetHost string `yaml:"targetHost"`
	TargetPort int    `yaml:"targetPort"`
	TargetUUID string `yaml:"targetUUID"`
	AgeSeconds int64  `yaml:"ageSeconds"`
}

// Fleet is the local device, its tokens, and the peers reachable through the
// relay keyed by host:port.
type Fleet struct {
	Local  Device            `yaml:"local"`
	Tokens []Token           `yaml:"tokens"`
	Peers  map[string]Device `yaml:"peers"`
}

// LoadFleet reads a YAML fleet fixture.
func LoadFleet(path string) (*Fleet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f Fleet
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fleet %s: %w", path, err)
	}
	return &f, nil
}

// MustLoadFleet is LoadFleet for tests.
func MustLoadFleet(t testing.TB, path string) *Fleet {
	t.Helper()
	f, err := LoadFleet(path)
	if err != nil {
		t.Fatalf("load fleet: %v", err)
	}
	return f
}

// Server is a running fake. Both the management API and the trust proxy are
// served from URL.
type Server struct {
	*httptest.Server

	fleet *Fleet
	now   func() time.Time

	mu       sync.Mutex
	failures map[string]int
	requests []string
	relayed  []api.ProxyRequest
}

// Options tune the fake.
type Options struct {
	Gzip bool
	Now  func() time.Time
}

// NewServer starts a fake for fleet and closes it when the test ends.
func NewServer(t testing.TB, fleet *Fleet, opts Options) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := &Server{fleet: fleet, now: opts.Now, failures: make(map[string]int)}
	if s.now == nil {
		s.now = time.Now
	}

	r := gin.New()
	if opts.Gzip {
		r.Use(gzip.Gzip(gzip.DefaultCompression))
	}
	r.Use(s.record)

	local := r.Group("/mgmt/shared", gin.BasicAuth(gin.Accounts{"admin": ""}))
	local.GET("/identified-devices/config/device-info", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.fleet.Local.Info)
	})
	local.GET("/device-certificates", func(c *gin.Context) {
		c.JSON(http.StatusOK, collection(s.fleet.Local))
	})
	r.GET(trustedProxyPath, s.listTokens)
	r.POST(trustedProxyPath, s.relay)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Fail makes every request to key answer with status. Keys are request paths
// for local calls and "relay:" + host:port + path for relayed calls.
func (s *Server) Fail(key string, status int) {
	s.mu.Lock()
	s.failures[key] = status
	s.mu.Unlock()
}

// Requests returns "METHOD path" for every request served so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Relayed returns the proxy request bodies received so far.
func (s *Server) Relayed() []api.ProxyRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.ProxyRequest(nil), s.relayed...)
}

func (s *Server) failure(key string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.failures[key]
	return st, ok
}

func (s *Server) record(c *gin.Context) {
	s.mu.Lock()
	s.requests = append(s.requests, c.Request.Method+" "+c.Request.URL.Path)
	s.mu.Unlock()
	if st, ok := s.failure(c.Request.URL.Path); ok && c.Request.Method == http.MethodGet {
		c.AbortWithStatusJSON(st, gin.H{"code": st, "message": "injected failure"})
		return
	}
	c.Next()
}

func (s *Server) listTokens(c *gin.Context) {
	nowMs := s.now().UnixMilli()
	out := make([]api.TrustToken, 0, len(s.fleet.Tokens))
	for _, tok := range s.fleet.Tokens {
		out = append(out, api.TrustToken{
			TargetHost: tok.TargetHost,
			TargetPort: tok.TargetPort,
			TargetUUID: tok.TargetUUID,
			Timestamp:  nowMs - tok.AgeSeconds*1000,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) relay(c *gin.Context) {
	var req api.ProxyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	s.mu.Lock()
	s.relayed = append(s.relayed, req)
	s.mu.Unlock()

	u, err := url.Parse(req.URI)
	if err != nil || u.Scheme != "https" || req.Method != api.ProxyMethodGet {
		c.JSON(http.StatusBadRequest, gin.H{"message": "unsupported relay request"})
		return
	}
	if st, ok := s.failure("relay:" + u.Host + u.Path); ok {
		c.JSON(st, gin.H{"code": st, "message": "injected relay failure"})
		return
	}
	peer, ok := s.fleet.Peers[u.Host]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "target " + u.Host + " is not a trusted device"})
		return
	}
	switch u.Path {
	case deviceInfoPath:
		c.JSON(http.StatusOK, peer.Info)
	case certificatesPath:
		c.JSON(http.StatusOK, collection(peer))
	default:
		c.JSON(http.StatusNotFound, gin.H{"message": "no such path " + u.Path})
	}
}

func collection(d Device) gin.H {
	if d.OmitItems {
		return gin.H{"kind": "shared:device-certificates:devicecertificatecollectionstate"}
	}
	items := d.Certificates
	if items == nil {
		items = []api.Certificate{}
	}
	return gin.H{"kind": "shared:device-certificates:devicecertificatecollectionstate", "items": items}
}
