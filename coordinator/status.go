package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sixdouglas/suncalc"
)

// StatusServer exposes the coordinator's read-only status over HTTP
// health endpoints and a streaming websocket, for dashboards and
// monitoring (spec.md §6: a read-only surface, never a control path).
type StatusServer struct {
	coordinator *Coordinator
	server      *http.Server
	port        int
	startTime   time.Time
	upgrader    websocket.Upgrader
	clients     sync.Map
	broadcast   chan []byte
	done        chan struct{}
	lat, lon    float64
}

// HealthResponse is the /api/health and websocket payload shape.
type HealthResponse struct {
	Status    string       `json:"status"`
	Timestamp string       `json:"timestamp"`
	State     string       `json:"state"`
	Since     string       `json:"since"`
	System    SystemHealth `json:"system"`
	Battery   BatteryHealth `json:"battery"`
	Selling   SellingHealth `json:"selling"`
	Sun       SunInfo      `json:"sun"`
}

// SystemHealth reports process-level uptime.
type SystemHealth struct {
	Uptime string `json:"uptime"`
}

// BatteryHealth is the last known battery reading, if any.
type BatteryHealth struct {
	Available bool    `json:"available"`
	SOCPct    float64 `json:"soc_pct,omitempty"`
	Charging  bool    `json:"charging,omitempty"`
	TempC     float64 `json:"temp_c,omitempty"`
}

// SellingHealth reports any active selling session and the last recommendation.
type SellingHealth struct {
	Active       bool   `json:"active"`
	LastDecision string `json:"last_decision,omitempty"`
}

// SunInfo carries solar position and timing, used to sanity-check the
// PV forecast against where the sun actually is.
type SunInfo struct {
	SolarAngle float64 `json:"solar_angle"`
	Sunrise    string  `json:"sunrise"`
	Sunset     string  `json:"sunset"`
}

// NewStatusServer builds a status server bound to a running
// coordinator. Returns nil (disabled) if port <= 0.
func NewStatusServer(c *Coordinator, port int, latitude, longitude float64) *StatusServer {
	if port <= 0 {
		return nil
	}

	mux := http.NewServeMux()
	s := &StatusServer{
		coordinator: c,
		port:        port,
		startTime:   time.Now(),
		lat:         latitude,
		lon:         longitude,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		broadcast: make(chan []byte, 256),
		done:      make(chan struct{}),
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	mux.HandleFunc("/api/health", s.healthHandler)
	mux.HandleFunc("/api/ready", s.readinessHandler)
	mux.HandleFunc("/api/ws", s.wsHandler)

	return s
}

// Start launches the broadcast loop, periodic status pusher, and HTTP
// listener in background goroutines.
func (s *StatusServer) Start() error {
	if s == nil {
		return nil
	}
	go s.handleBroadcasts()
	go s.broadcastStatus()
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("status server error: %v\n", err)
		}
	}()
	return nil
}

// Stop gracefully closes all websocket clients and shuts down the HTTP server.
func (s *StatusServer) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	close(s.done)
	s.clients.Range(func(key, _ any) bool {
		if conn, ok := key.(*websocket.Conn); ok {
			conn.Close()
		}
		return true
	})
	return s.server.Shutdown(ctx)
}

func (s *StatusServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := s.buildHealth()
	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func (s *StatusServer) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ready := s.coordinator.IsRunning()
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ready":     ready,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *StatusServer) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		fmt.Printf("status websocket upgrade error: %v\n", err)
		return
	}
	s.clients.Store(conn, true)
	s.sendToClient(conn)

	defer func() {
		s.clients.Delete(conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				fmt.Printf("status websocket error: %v\n", err)
			}
			break
		}
	}
}

func (s *StatusServer) handleBroadcasts() {
	for {
		select {
		case msg := <-s.broadcast:
			s.clients.Range(func(key, _ any) bool {
				conn, ok := key.(*websocket.Conn)
				if !ok {
					return true
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					s.clients.Delete(conn)
				}
				return true
			})
		case <-s.done:
			return
		}
	}
}

func (s *StatusServer) broadcastStatus() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hasClients := false
			s.clients.Range(func(_, _ any) bool { hasClients = true; return false })
			if !hasClients {
				continue
			}
			msg, err := json.Marshal(s.buildHealth())
			if err != nil {
				continue
			}
			s.broadcast <- msg
		case <-s.done:
			return
		}
	}
}

func (s *StatusServer) sendToClient(conn *websocket.Conn) {
	if err := conn.WriteJSON(s.buildHealth()); err != nil {
		fmt.Printf("failed to send initial status: %v\n", err)
	}
}

func (s *StatusServer) buildHealth() HealthResponse {
	status := s.coordinator.GetStatus()

	overall := "healthy"
	if status.Coordinator.State == StateError {
		overall = "unhealthy"
	} else if status.Coordinator.State == StateMaintenance {
		overall = "degraded"
	}

	resp := HealthResponse{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		State:     string(status.Coordinator.State),
		Since:     status.Coordinator.Since.UTC().Format(time.RFC3339),
		System:    SystemHealth{Uptime: formatUptime(time.Since(s.startTime))},
		Selling:   SellingHealth{Active: status.ActiveSellingSession != nil, LastDecision: status.LastSellingDecision},
	}

	if status.HasLatest {
		resp.Battery = BatteryHealth{
			Available: true,
			SOCPct:    status.Latest.Battery.SOCPct,
			Charging:  status.Latest.Battery.Charging,
			TempC:     status.Latest.Battery.TempC,
		}
	}

	now := time.Now()
	sunTimes := suncalc.GetTimes(now, s.lat, s.lon)
	sunPos := suncalc.GetPosition(now, s.lat, s.lon)
	resp.Sun = SunInfo{
		SolarAngle: sunPos.Altitude * 180 / math.Pi,
		Sunrise:    sunTimes["sunrise"].Value.Format(time.RFC3339),
		Sunset:     sunTimes["sunset"].Value.Format(time.RFC3339),
	}

	return resp
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	sec := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, sec)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, sec)
	}
	return fmt.Sprintf("%ds", sec)
}
