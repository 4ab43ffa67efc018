package main

import (
	"encoding/json"
	"net/http"
	"runtime"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bpcore/flowproxy/metrics"
)

// flagString pulls a string flag's current value back out of a
// command's flag set without threading a bound variable through the
// RunE closure, falling back when the flag was never registered.
func flagString(fs *pflag.FlagSet, name, fallback string) string {
	f := fs.Lookup(name)
	if f == nil {
		return fallback
	}
	return f.Value.String()
}

func newDiagnosticsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Serve a /metrics and /debug/vars introspection endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveDiagnostics(flagString(cmd.Flags(), "addr", ":9090"))
		},
	}
	cmd.Flags().String("addr", ":9090", "address to listen on")
	return cmd
}

func serveDiagnostics(addr string) error {
	if _, err := memlimit.SetGoMemLimitWithOpts(); err != nil {
		// Not running under a memory-limited cgroup; nothing to tune.
		_ = err
	}
	metrics.MustRegister(prometheus.DefaultRegisterer)

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/debug/vars", handleDebugVars)
	return http.ListenAndServe(addr, r)
}

func handleDebugVars(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"goroutines": runtime.NumGoroutine(),
		"gomaxprocs": runtime.GOMAXPROCS(0),
	})
}
