package api

import (
	"net/http"
	"strings"
)

// TreeMux routes requests to sub-handlers by longest registered path prefix,
// stripping the prefix before handing the request on.
type TreeMux struct {
	Handler http.Handler
	Sub     map[string]TreeMux
}

func (t TreeMux) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if strings.HasPrefix(req.URL.Path, "/debug/pprof") {
		http.DefaultServeMux.ServeHTTP(w, req)
		return
	}

	var match string
	for prefix := range t.Sub {
		if strings.HasPrefix(req.URL.Path, prefix) && len(prefix) > len(match) {
			match = prefix
		}
	}
	if match != "" {
		req.URL.Path = strings.TrimPrefix(req.URL.Path, match)
		t.Sub[match].ServeHTTP(w, req)
		return
	}
	if t.Handler != nil {
		t.Handler.ServeHTTP(w, req)
		return
	}
	http.NotFound(w, req)
}
