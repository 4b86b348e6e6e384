package destination

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ServerHostPort is a full host name with port, e.g. "srv1:9009".
type ServerHostPort string

// Setting represents the set of servers behind one logical ingestion target.
// A sender configured with several addresses rotates between them and skips
// hosts that recently failed.
type Setting struct {
	// state, all is protected by mu
	mu           sync.Mutex
	servers      []ServerHostPort
	curServerIdx int
	brokenHosts  map[ServerHostPort]time.Time
	disableFor   time.Duration
}

const defaultDisableFor = 20 * time.Second

// Parse builds a Setting from a comma-separated address list like
// "srv1:9009,srv2:9009". Every entry must carry an explicit port.
func Parse(addr string) (*Setting, error) {
	s := &Setting{
		curServerIdx: -1, // incremented first, so the first pick is index 0
		brokenHosts:  make(map[ServerHostPort]time.Time),
		disableFor:   defaultDisableFor,
	}

	for _, part := range strings.Split(addr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.LastIndexByte(part, ':')
		if idx <= 0 || idx == len(part)-1 {
			return nil, fmt.Errorf("address %q must be in host:port form", part)
		}
		s.servers = append(s.servers, ServerHostPort(part))
	}

	if len(s.servers) == 0 {
		return nil, fmt.Errorf("empty address list %q", addr)
	}
	return s, nil
}

// SetDisableInterval overrides how long a host stays out of rotation after
// TempDisableHost.
func (s *Setting) SetDisableInterval(d time.Duration) {
	s.mu.Lock()
	s.disableFor = d
	s.mu.Unlock()
}

// Servers returns a copy of the configured server list.
func (s *Setting) Servers() []ServerHostPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ServerHostPort(nil), s.servers...)
}

// ChooseNextServer returns the next server from the list or ok=false, which
// means that every host is currently disabled. A disabled host whose penalty
// expired goes back into rotation.
func (s *Setting) ChooseNextServer() (srv ServerHostPort, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cnt := len(s.servers)

	for i := 0; i < cnt; i++ {
		s.curServerIdx = (s.curServerIdx + 1) % cnt
		el := s.servers[s.curServerIdx]
		if until, broken := s.brokenHosts[el]; broken {
			if until.After(now) {
				continue
			}
			delete(s.brokenHosts, el)
		}
		return el, true
	}

	return "", false
}

// TempDisableHost marks provided host as temporarily disabled (it will not be
// returned by ChooseNextServer until the penalty interval passes). The last
// host still in rotation is never disabled: with nothing to rotate to, a
// penalty would only turn the next flush into a guaranteed failure.
func (s *Setting) TempDisableHost(srv ServerHostPort) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.brokenHosts[srv]; ok {
		return
	}

	now := time.Now()
	for _, el := range s.servers {
		if el == srv {
			continue
		}
		if until, broken := s.brokenHosts[el]; !broken || !until.After(now) {
			s.brokenHosts[srv] = now.Add(s.disableFor)
			return
		}
	}
}
