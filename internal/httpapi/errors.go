package httpapi

import (
	"net/http"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/routeerr"
)

// writeError serializes err in protocol's error envelope (spec.md §7:
// OpenAI {error:{message,type,code}}, Anthropic {type:"error",
// error:{type,message}}; no internal stack traces leak).
func (s *Server) writeError(w http.ResponseWriter, protocol canonical.WireProtocol, err error) {
	rcErr, ok := routeerr.As(err)
	if !ok {
		rcErr = routeerr.Wrap(routeerr.KindInternal, "httpapi", "unexpected error", err)
	}
	status := rcErr.HTTPStatus()
	if status == 0 {
		status = http.StatusBadGateway
	}

	if protocol == canonical.ProtocolAnthropic {
		writeJSON(w, status, map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    string(rcErr.Kind()),
				"message": rcErr.Message(),
			},
		})
		return
	}

	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": rcErr.Message(),
			"type":    string(rcErr.Kind()),
			"code":    rcErr.Code(),
		},
	})
}
