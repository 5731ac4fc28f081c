package intel

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Feed is the YAML root structure of a threat-intelligence file.
type Feed struct {
	MaliciousIPs      []string `yaml:"malicious_ips"`
	SuspiciousDomains []string `yaml:"suspicious_domains"`
	BlockedPorts      []int    `yaml:"blocked_ports"`
	AttackPatterns    []string `yaml:"attack_patterns"`
}

// DefaultFeed is used when no feed file is configured.
func DefaultFeed() Feed {
	return Feed{
		MaliciousIPs:      []string{"203.0.113.66", "198.51.100.23", "192.0.2.200"},
		SuspiciousDomains: []string{"malware-c2.example", "phishing-login.example", "exfil-drop.example"},
		BlockedPorts:      []int{23, 135, 445, 1433, 3389, 4444, 6667},
		AttackPatterns:    []string{"multi-vector attack", "credential stuffing", "lateral movement", "data exfiltration"},
	}
}

// Store holds the lookup sets consulted by the detectors. Reads are concurrent; updates
// replace or extend sets under the write lock.
type Store struct {
	mu       sync.RWMutex
	ips      map[string]struct{}
	domains  map[string]struct{}
	ports    map[int]struct{}
	patterns map[string]struct{}
	logger   *slog.Logger
}

// NewStore builds a store from feed.
func NewStore(feed Feed, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{logger: logger}
	s.Replace(feed)
	return s
}

// Load reads a feed file. An empty path or missing file yields the default feed.
func Load(path string, logger *slog.Logger) (*Store, error) {
	feed, err := ReadFeed(path)
	if err != nil {
		return nil, err
	}
	return NewStore(feed, logger), nil
}

// ReadFeed parses a YAML feed file, falling back to DefaultFeed when path is empty or absent.
func ReadFeed(path string) (Feed, error) {
	if path == "" {
		return DefaultFeed(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultFeed(), nil
		}
		return Feed{}, err
	}
	var feed Feed
	if err := yaml.Unmarshal(data, &feed); err != nil {
		return Feed{}, err
	}
	return feed, nil
}

// Replace swaps every set for the contents of feed.
func (s *Store) Replace(feed Feed) {
	ips := make(map[string]struct{}, len(feed.MaliciousIPs))
	for _, ip := range feed.MaliciousIPs {
		if ip = strings.TrimSpace(ip); ip != "" {
			ips[ip] = struct{}{}
		}
	}
	domains := make(map[string]struct{}, len(feed.SuspiciousDomains))
	for _, d := range feed.SuspiciousDomains {
		if d = normaliseDomain(d); d != "" {
			domains[d] = struct{}{}
		}
	}
	ports := make(map[int]struct{}, len(feed.BlockedPorts))
	for _, p := range feed.BlockedPorts {
		ports[p] = struct{}{}
	}
	patterns := make(map[string]struct{}, len(feed.AttackPatterns))
	for _, p := range feed.AttackPatterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			patterns[p] = struct{}{}
		}
	}

	s.mu.Lock()
	s.ips, s.domains, s.ports, s.patterns = ips, domains, ports, patterns
	s.mu.Unlock()

	s.logger.Debug("threat intel replaced",
		slog.Int("ips", len(ips)),
		slog.Int("domains", len(domains)),
		slog.Int("ports", len(ports)),
		slog.Int("patterns", len(patterns)))
}

// AddMaliciousIP extends the malicious IP list.
func (s *Store) AddMaliciousIP(ip string) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return
	}
	s.mu.Lock()
	s.ips[ip] = struct{}{}
	s.mu.Unlock()
}

// AddSuspiciousDomain extends the suspicious domain list.
func (s *Store) AddSuspiciousDomain(domain string) {
	domain = normaliseDomain(domain)
	if domain == "" {
		return
	}
	s.mu.Lock()
	s.domains[domain] = struct{}{}
	s.mu.Unlock()
}

// AddBlockedPort extends the blocked port list.
func (s *Store) AddBlockedPort(port int) {
	s.mu.Lock()
	s.ports[port] = struct{}{}
	s.mu.Unlock()
}

// IsMaliciousIP reports whether ip is listed.
func (s *Store) IsMaliciousIP(ip string) bool {
	if ip == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ips[strings.TrimSpace(ip)]
	return ok
}

// IsSuspiciousDomain reports whether domain or any parent domain is listed.
func (s *Store) IsSuspiciousDomain(domain string) bool {
	domain = normaliseDomain(domain)
	if domain == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for domain != "" {
		if _, ok := s.domains[domain]; ok {
			return true
		}
		idx := strings.IndexByte(domain, '.')
		if idx < 0 {
			break
		}
		domain = domain[idx+1:]
	}
	return false
}

// IsBlockedPort reports whether port is listed.
func (s *Store) IsBlockedPort(port int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ports[port]
	return ok
}

// IsKnownPattern reports whether name is a known attack-pattern name (case-insensitive).
func (s *Store) IsKnownPattern(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.patterns[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

func normaliseDomain(d string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d)), ".")
}
