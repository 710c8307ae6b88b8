package ingress

import (
	"net/http"

	"github.com/greentic-ai/messaging-gateway/internal/config"
)

// NewRouter assembles the ingress HTTP surface of spec §6: Slack, Telegram,
// Webex, and the generic normalized-ingest path, plus liveness. Uses the
// Go 1.22+ ServeMux method/wildcard pattern syntax rather than a
// third-party router, matching the stdlib-only HTTP wiring the teacher
// uses in go-server/internal/server/server.go.
func (r *Receiver) NewRouter(cfg *config.GatewayConfig, webexBotPersonID string) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /slack/events", r.SlackHandler(cfg.Tenant, cfg.SlackSigningSecret))
	mux.HandleFunc("POST /webex/events", r.WebexHandler(cfg.Tenant, webexBotPersonID))

	mux.HandleFunc("POST /telegram/{tenant}", func(w http.ResponseWriter, req *http.Request) {
		r.TelegramHandler(req.PathValue("tenant"))(w, req)
	})

	mux.HandleFunc("POST /api/{tenant}/{channel}", func(w http.ResponseWriter, req *http.Request) {
		r.GenericHandler(req.PathValue("tenant"), req.PathValue("channel"))(w, req)
	})
	mux.HandleFunc("POST /api/{tenant}/{team}/{channel}", func(w http.ResponseWriter, req *http.Request) {
		r.GenericHandler(req.PathValue("tenant"), req.PathValue("channel"))(w, req)
	})

	return mux
}
