package proxy

import (
	"encoding/json"
	"net/http"
	"time"
)

// StubOrigin serves placeholder content when no origin URL is configured.
// Useful for demos and integration tests; production deployments always set
// an origin.
type StubOrigin struct {
	publisher string
}

// NewStub creates the built-in origin.
func NewStub(publisherAddress string) *StubOrigin {
	return &StubOrigin{publisher: publisherAddress}
}

func (s *StubOrigin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"message":   "Paid content placeholder. Configure ORIGIN_URL to serve real content.",
		"publisher": s.publisher,
		"path":      r.URL.Path,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
