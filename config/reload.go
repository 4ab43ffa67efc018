package config

import (
	"fmt"
	"strings"

	"github.com/aryann/difflib"
	"go.uber.org/zap"
)

// dump renders c as an indented key/value listing suitable for diffing,
// deliberately simpler than a full YAML re-encode so the diff output
// stays readable.
func dump(c Config) []string {
	return []string{
		fmt.Sprintf("listen: %s", c.Listen),
		fmt.Sprintf("upstream.kind: %s", c.Upstream.Kind),
		fmt.Sprintf("upstream.address: %s", c.Upstream.Address),
		fmt.Sprintf("pool.max_conns_per_upstream: %d", c.Pool.MaxConnsPerUpstream),
		fmt.Sprintf("pool.slab_chunk_size: %d", c.Pool.SlabChunkSize),
		fmt.Sprintf("timeouts.connect: %s", c.Timeouts.Connect),
		fmt.Sprintf("timeouts.idle: %s", c.Timeouts.Idle),
		fmt.Sprintf("timeouts.header: %s", c.Timeouts.Header),
		fmt.Sprintf("log.level: %s", c.Log.Level),
		fmt.Sprintf("log.file: %s", c.Log.File),
	}
}

// LogReload diffs old against next and writes one log line per removed
// and one per added rendered line, so a changed setting logs two
// lines, the reload-time equivalent of the teacher's config-change
// logging. It returns whether anything changed.
func LogReload(log *zap.Logger, old, next Config) bool {
	diff := difflib.Diff(dump(old), dump(next))
	changed := false
	for _, d := range diff {
		if d.Delta == difflib.Common {
			continue
		}
		changed = true
		log.Info("config setting changed", zap.String("delta", strings.TrimSpace(d.String())))
	}
	return changed
}
