package policy

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/cqlcore/topology"
)

type hostSpec struct {
	endpoint string
	dc       string
	rack     string
	tokens   []string
}

func newTestRegistry(t *testing.T, specs ...hostSpec) (*topology.Registry, []*topology.Host) {
	t.Helper()

	reg := topology.NewRegistry()
	hosts := make([]*topology.Host, 0, len(specs))
	for _, s := range specs {
		h, added := reg.AddOrUpdate(s.endpoint, topology.HostInfo{Datacenter: s.dc, Rack: s.rack, Tokens: s.tokens})
		require.True(t, added, s.endpoint)
		hosts = append(hosts, h)
	}

	return reg, hosts
}

func drain(plan QueryPlan) []*topology.Host {
	var out []*topology.Host
	for h := plan.Next(); h != nil; h = plan.Next() {
		out = append(out, h)
	}

	return out
}

func endpoints(hosts []*topology.Host) []string {
	out := make([]string, len(hosts))
	for i, h := range hosts {
		out[i] = h.Endpoint()
	}

	return out
}

type entry struct {
	level string
	msg   string
	kv    []any
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []entry
}

func (l *recordingLogger) add(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry{level: level, msg: msg, kv: kv})
}

func (l *recordingLogger) Debug(msg string, kv ...any) { l.add("debug", msg, kv) }
func (l *recordingLogger) Info(msg string, kv ...any)  { l.add("info", msg, kv) }
func (l *recordingLogger) Warn(msg string, kv ...any)  { l.add("warn", msg, kv) }
func (l *recordingLogger) Error(msg string, kv ...any) { l.add("error", msg, kv) }

func (l *recordingLogger) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.msg
	}

	return out
}
