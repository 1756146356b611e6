package transport

import "sync"

// Op is the operation a Gate is asked to approve.
type Op string

const (
	OpConnect Op = "connect"
	OpWrite   Op = "write"
	OpScan    Op = "scan"
)

// Gate approves transport operations. A denial is an ordinary failure: the operation returns
// false and nothing is retried.
type Gate interface {
	Allow(op Op, address string) bool
}

// AllowAll approves every operation.
type AllowAll struct{}

func (AllowAll) Allow(Op, string) bool { return true }

// PolicyGate approves operations while armed, restricted to an address allow-list. An empty
// allow-list admits any address. Scans are not tied to an address and only need the gate to
// be armed.
type PolicyGate struct {
	mu      sync.RWMutex
	armed   bool
	allowed map[string]bool
}

// NewPolicyGate returns an armed gate admitting the given addresses.
func NewPolicyGate(addresses ...string) *PolicyGate {
	g := &PolicyGate{armed: true}
	g.SetAllowed(addresses)
	return g
}

// SetArmed switches the gate on or off. A disarmed gate denies everything.
func (g *PolicyGate) SetArmed(armed bool) {
	g.mu.Lock()
	g.armed = armed
	g.mu.Unlock()
}

// SetAllowed replaces the allow-list. Empty addresses are ignored.
func (g *PolicyGate) SetAllowed(addresses []string) {
	allowed := make(map[string]bool, len(addresses))
	for _, a := range addresses {
		if a != "" {
			allowed[a] = true
		}
	}
	g.mu.Lock()
	g.allowed = allowed
	g.mu.Unlock()
}

func (g *PolicyGate) Allow(op Op, address string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.armed {
		return false
	}
	if op == OpScan || len(g.allowed) == 0 {
		return true
	}
	return g.allowed[address]
}
