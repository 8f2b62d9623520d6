package directory

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

const (
	routeRegister = "/register"
	routePeers    = "/peers"
	routePeerInfo = "/peer_info"
	routeWatch    = "/peers/watch"
	routeHealth   = "/healthz"
)

type messageResponse struct {
	Message string `json:"message"`
}

type peersResponse struct {
	Peers []string `json:"peers"`
}

// registerRequest also accepts the older field name "ip" and a port sent as
// a JSON string.
type registerRequest struct {
	Username string   `json:"username"`
	Address  string   `json:"address"`
	IP       string   `json:"ip,omitempty"`
	Port     jsonPort `json:"port"`
}

func (r registerRequest) record() PeerRecord {
	addr := r.Address
	if addr == "" {
		addr = r.IP
	}
	return PeerRecord{Username: r.Username, Address: addr, Port: int(r.Port)}
}

type jsonPort int

func (p *jsonPort) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*p = jsonPort(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("port must be a number or numeric string")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("port %q is not numeric", s)
	}
	*p = jsonPort(n)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Message: msg})
}
