// Package dashboardtest provides an in-memory WGDashboard API server for
// tests.
package dashboardtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// DownloadMode selects how downloadPeer answers.
type DownloadMode int

const (
	// DownloadJSON answers {status, data:{fileName, file}}.
	DownloadJSON DownloadMode = iota
	// DownloadRaw answers a text body with a Content-Disposition filename.
	DownloadRaw
	// DownloadLatin1 answers a raw ISO-8859-1 encoded body.
	DownloadLatin1
)

// Config is a dashboard configuration held by the fake.
type Config struct {
	Name       string
	Address    string
	ListenPort int
	Protocol   string
	PrivateKey string
}

// Server is a fake WGDashboard. All methods are safe for concurrent use.
type Server struct {
	*httptest.Server

	APIKey string

	mu      sync.Mutex
	configs []Config
	peers   map[string][]map[string]any
	faults  map[string][]int
	calls   map[string]int
	nextID  int

	// Behaviour switches, set before issuing requests.
	EmbedPeers     bool              // include Peers in the configuration list
	EmptyEmbedded  bool              // include Peers:[] regardless of the real peers
	RequireAddress bool              // reject addPeers without allowed_ip
	EmptyAddReply  bool              // answer addPeers with data:[]
	RejectPeers    string            // when set, addPeers fails with this message
	Disabled       map[string]bool   // endpoint name -> answer 404
	DownloadParam  string            // query parameter downloadPeer accepts
	Download       DownloadMode      // downloadPeer answer shape
	DownloadName   string            // file name reported by downloadPeer
	ExtraHeaders   map[string]string // added to every response
}

// NewServer starts a fake dashboard expecting apiKey. It is closed when the
// test ends.
func NewServer(t testing.TB, apiKey string) *Server {
	t.Helper()
	s := &Server{
		APIKey:        apiKey,
		peers:         make(map[string][]map[string]any),
		faults:        make(map[string][]int),
		calls:         make(map[string]int),
		Disabled:      make(map[string]bool),
		DownloadParam: "id",
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// AddConfig presets a configuration.
func (s *Server) AddConfig(c Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = append(s.configs, c)
}

// AddPeer presets a raw peer record in config.
func (s *Server) AddPeer(config string, peer map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[config] = append(s.peers[config], peer)
}

// Peers returns a copy of the raw peers of config.
func (s *Server) Peers(config string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.peers[config]...)
}

// Configs returns a copy of the configurations.
func (s *Server) Configs() []Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Config(nil), s.configs...)
}

// FailNext makes the next len(statuses) requests to endpoint answer with the
// given HTTP statuses, in order. A status of 0 drops the connection.
func (s *Server) FailNext(endpoint string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[endpoint] = append(s.faults[endpoint], statuses...)
}

// Calls returns how many requests reached endpoint (faults included).
func (s *Server) Calls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

// endpoint returns the API method name and its path parameter.
func endpoint(path string) (string, string) {
	rest := strings.TrimPrefix(path, "/api/")
	name, param, _ := strings.Cut(rest, "/")
	return name, param
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	name, param := endpoint(r.URL.Path)

	s.mu.Lock()
	s.calls[name]++
	var fault int
	faulted := false
	if q := s.faults[name]; len(q) > 0 {
		fault, faulted = q[0], true
		s.faults[name] = q[1:]
	}
	disabled := s.Disabled[name]
	for k, v := range s.ExtraHeaders {
		w.Header().Set(k, v)
	}
	s.mu.Unlock()

	if faulted {
		if fault == 0 {
			hijackClose(w)
			return
		}
		http.Error(w, http.StatusText(fault), fault)
		return
	}
	if r.Header.Get("wg-dashboard-apikey") != s.APIKey {
		http.Error(w, `{"status":false,"message":"Unauthorized access"}`, http.StatusUnauthorized)
		return
	}
	if disabled {
		http.NotFound(w, r)
		return
	}

	switch name {
	case "handshake":
		writeJSON(w, map[string]any{"status": true, "message": nil, "data": nil})
	case "getWireguardConfigurations":
		s.listConfigs(w)
	case "addWireguardConfiguration":
		s.addConfig(w, r)
	case "deleteWireguardConfiguration":
		s.deleteConfig(w, r)
	case "getWireguardConfigurationInfo":
		s.configInfo(w, r.URL.Query().Get("configurationName"))
	case "getPeers", "getPeersList", "getConfigurationPeers":
		s.peerList(w, param)
	case "addPeers":
		s.addPeers(w, r, param)
	case "deletePeers":
		s.deletePeers(w, r, param)
	case "downloadPeer":
		s.downloadPeer(w, r, param)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) listConfigs(w http.ResponseWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := make([]any, 0, len(s.configs))
	for _, c := range s.configs {
		obj := map[string]any{
			"Name":       c.Name,
			"Address":    c.Address,
			"ListenPort": c.ListenPort,
			"Protocol":   c.Protocol,
			"Status":     true,
		}
		switch {
		case s.EmptyEmbedded:
			obj["Peers"] = []any{}
		case s.EmbedPeers:
			obj["Peers"] = toAny(s.peers[c.Name])
		}
		data = append(data, obj)
	}
	writeJSON(w, map[string]any{"status": true, "data": data})
}

func (s *Server) addConfig(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ConfigurationName string
		Address           string
		ListenPort        int
		PrivateKey        string
		Protocol          string
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, map[string]any{"status": false, "message": "invalid body"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.configs {
		if c.Name == body.ConfigurationName {
			writeJSON(w, map[string]any{"status": false, "message": "Configuration " + c.Name + " already exists"})
			return
		}
	}
	s.configs = append(s.configs, Config{
		Name:       body.ConfigurationName,
		Address:    body.Address,
		ListenPort: body.ListenPort,
		PrivateKey: body.PrivateKey,
		Protocol:   body.Protocol,
	})
	writeJSON(w, map[string]any{"status": true, "message": nil})
}

func (s *Server) deleteConfig(w http.ResponseWriter, r *http.Request) {
	var body struct{ ConfigurationName string }
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.configs {
		if c.Name == body.ConfigurationName {
			s.configs = append(s.configs[:i], s.configs[i+1:]...)
			delete(s.peers, c.Name)
			writeJSON(w, map[string]any{"status": true})
			return
		}
	}
	writeJSON(w, map[string]any{"status": false, "message": "Configuration does not exist"})
}

func (s *Server) configInfo(w http.ResponseWriter, config string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasConfigLocked(config) {
		writeJSON(w, map[string]any{"status": false, "message": "Configuration does not exist"})
		return
	}
	writeJSON(w, map[string]any{"status": true, "data": map[string]any{
		"configurationInfo":            map[string]any{"Name": config},
		"configurationPeers":           toAny(s.peers[config]),
		"configurationRestrictedPeers": []any{},
	}})
}

func (s *Server) peerList(w http.ResponseWriter, config string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasConfigLocked(config) {
		writeJSON(w, map[string]any{"status": false, "message": "Configuration does not exist"})
		return
	}
	writeJSON(w, map[string]any{"status": true, "data": toAny(s.peers[config])})
}

func (s *Server) addPeers(w http.ResponseWriter, r *http.Request, config string) {
	var body struct {
		Peers []map[string]any `json:"peers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Peers) == 0 {
		writeJSON(w, map[string]any{"status": false, "message": "Please provide at least one peer"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasConfigLocked(config) {
		writeJSON(w, map[string]any{"status": false, "message": "Configuration does not exist"})
		return
	}
	if s.RejectPeers != "" {
		writeJSON(w, map[string]any{"status": false, "message": s.RejectPeers})
		return
	}
	created := make([]any, 0, len(body.Peers))
	for _, in := range body.Peers {
		ip, _ := in["allowed_ip"].(string)
		if ip == "" && s.RequireAddress {
			writeJSON(w, map[string]any{"status": false, "message": "Please specify allowed_ip for the peer"})
			return
		}
		for _, existing := range s.peers[config] {
			if ip != "" && existing["allowed_ip"] == ip {
				writeJSON(w, map[string]any{"status": false, "message": "Allowed IP " + ip + " is already in use"})
				return
			}
		}
		s.nextID++
		pk := fmt.Sprintf("PK%041d=", s.nextID)
		peer := map[string]any{
			"id":               pk,
			"name":             in["name"],
			"allowed_ip":       ip,
			"total_receive":    0,
			"total_sent":       0,
			"latest_handshake": "No Handshake",
		}
		s.peers[config] = append(s.peers[config], peer)
		created = append(created, peer)
	}
	if s.EmptyAddReply {
		created = []any{}
	}
	writeJSON(w, map[string]any{"status": true, "data": created})
}

func (s *Server) deletePeers(w http.ResponseWriter, r *http.Request, config string) {
	var body struct {
		Peers []string `json:"peers"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, target := range body.Peers {
		kept := s.peers[config][:0]
		for _, p := range s.peers[config] {
			if p["id"] == target || p["publicKey"] == target || p["public_key"] == target {
				removed++
				continue
			}
			kept = append(kept, p)
		}
		s.peers[config] = kept
	}
	if removed == 0 {
		writeJSON(w, map[string]any{"status": false, "message": "Peer does not exist"})
		return
	}
	writeJSON(w, map[string]any{"status": true})
}

func (s *Server) downloadPeer(w http.ResponseWriter, r *http.Request, config string) {
	key := r.URL.Query().Get(s.DownloadParam)
	if key == "" {
		writeJSON(w, map[string]any{"status": false, "message": "Please specify one or more peers"})
		return
	}
	s.mu.Lock()
	var peer map[string]any
	for _, p := range s.peers[config] {
		if p["id"] == key || p["publicKey"] == key {
			peer = p
			break
		}
	}
	mode, fileName := s.Download, s.DownloadName
	s.mu.Unlock()
	if peer == nil {
		writeJSON(w, map[string]any{"status": false, "message": "Peer does not exist"})
		return
	}
	if fileName == "" {
		fileName, _ = peer["name"].(string)
	}
	file := fmt.Sprintf("[Interface]\nPrivateKey = secret\nAddress = %v\n\n[Peer]\nPublicKey = %s\n", peer["allowed_ip"], key)

	switch mode {
	case DownloadRaw:
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", `attachment; filename="`+fileName+`.conf"`)
		_, _ = w.Write([]byte(file))
	case DownloadLatin1:
		w.Header().Set("Content-Type", "application/octet-stream")
		// "# Café" in ISO-8859-1; invalid as UTF-8.
		_, _ = w.Write(append([]byte("# Caf\xe9\n"), file...))
	default:
		writeJSON(w, map[string]any{"status": true, "data": map[string]any{"fileName": fileName, "file": file}})
	}
}

func (s *Server) hasConfigLocked(name string) bool {
	for _, c := range s.configs {
		if c.Name == name {
			return true
		}
	}
	return false
}

func toAny(peers []map[string]any) []any {
	out := make([]any, 0, len(peers))
	for _, p := range peers {
		out = append(out, p)
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// hijackClose drops the connection without a response.
func hijackClose(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijack unsupported", http.StatusInternalServerError)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	_ = conn.Close()
}
