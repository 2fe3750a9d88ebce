package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/encodeous/weft/state"
	"github.com/go-resty/resty/v2"
)

// InspectPath serves a plain text dump of the node's state on the debug server
const InspectPath = "/debug/weft"

// InspectGet fetches the state dump of a node running with debugging enabled
func InspectGet(ctx context.Context, addr string) (string, error) {
	resp, err := resty.New().R().SetContext(ctx).Get("http://" + addr + InspectPath)
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("inspect failed: %s", resp.Status())
	}
	return resp.String(), nil
}

// Inspect renders peers, routes and ledger accounts
func Inspect(s *state.State) string {
	sb := strings.Builder{}
	subnets := Get[*Subnets](s)
	for _, id := range s.SubnetIds() {
		inst, _ := subnets.Get(id)
		sb.WriteString(fmt.Sprintf("Subnet %s (%s):\n", id, inst.Cfg.Module))

		sb.WriteString(" Nodes:\n")
		for _, e := range s.NodeTable.Entries(id) {
			line := fmt.Sprintf("  - %s", e.Node)
			if e.Node == s.Id {
				line += " (self)"
			}
			if e.IsPeer() {
				line += fmt.Sprintf(" peer since %s", e.PeerState.Since.Format(time.RFC3339))
			}
			if e.LinkState != nil {
				line += fmt.Sprintf(" seq=%d neighbours=%v", e.LinkState.Sequence, e.LinkState.Neighbours)
			} else {
				line += " (no link state)"
			}
			sb.WriteString(line + "\n")
		}

		sb.WriteString(" Routes:\n")
		for _, r := range s.RoutingTable.FilterPrefix(state.NodeAddress(s.AllocationScheme, id, "")) {
			if r.V2.Type == state.RouteFixed {
				sb.WriteString(fmt.Sprintf("  - %s local\n", r.V1))
				continue
			}
			sb.WriteString(fmt.Sprintf("  - %s distance %d via %v\n", r.V1, r.V2.Distance, r.V2.FirstHopOptions))
		}

		sb.WriteString(" Accounts:\n")
		for _, acc := range s.Ledger.GetAccounts(string(inst.LedgerId()) + ":") {
			sb.WriteString(fmt.Sprintf("  - %s balance=%s debits=%s/%s credits=%s/%s\n", acc.Path, acc.Balance(),
				acc.DebitsPosted.Dec(), acc.DebitsPending.Dec(), acc.CreditsPosted.Dec(), acc.CreditsPending.Dec()))
		}
	}
	sb.WriteString(fmt.Sprintf("\nOutstanding packets: %d\n", Get[*Connector](s).Outstanding()))
	sb.WriteString(fmt.Sprintf("Pending transfers: %d\n", len(s.Ledger.PendingTransfers())))
	return sb.String()
}

func inspectHandler(env *state.Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := env.DispatchWait(func(s *state.State) (any, error) {
			return Inspect(s), nil
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(res.(string)))
	}
}

// serveDebug exposes expvar, the metrics page and the state dump on state.DebugAddr
func serveDebug(env *state.Env) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle(InspectPath, inspectHandler(env))
	mux.Handle("/", http.DefaultServeMux)
	server := &http.Server{Addr: state.DebugAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			env.Log.Warn("debug server stopped", "error", err)
		}
	}()
	env.Log.Info("serving debug endpoints", "address", state.DebugAddr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			env.Log.Debug("failed to stop debug server", "error", err)
		}
	}
}
