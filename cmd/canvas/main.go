// Package main runs the canvas service: the viewport-driven pixel engine
// plus an HTTP surface for rendering state, viewport input, pixel
// transactions and the gallery listing.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pixel-canvas/internal/chain"
	"pixel-canvas/internal/chain/stub"
	"pixel-canvas/internal/engine"
	"pixel-canvas/internal/gallery"
	"pixel-canvas/internal/grid"
	"pixel-canvas/internal/notify"
	"pixel-canvas/internal/observability"
	"pixel-canvas/internal/storage"
	"pixel-canvas/internal/storage/memory"
	"pixel-canvas/internal/storage/migrations"
	pgstore "pixel-canvas/internal/storage/postgres"
)

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	gatewayEndpoint := flag.String("gateway-endpoint", os.Getenv("GATEWAY_ENDPOINT"), "Wallet gateway JSON-RPC HTTP endpoint")
	wsEndpoint := flag.String("ws-endpoint", os.Getenv("GATEWAY_WS_ENDPOINT"), "Wallet gateway WebSocket endpoint")
	contractAddr := flag.String("contract-address", os.Getenv("CONTRACT_ADDRESS"), "Canvas contract address")
	galleryURL := flag.String("gallery-url", os.Getenv("GALLERY_URL"), "Marketplace token API base URL (optional)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string for pixel snapshots")
	width := flag.Int("width", 100, "Canvas width in pixels")
	height := flag.Int("height", 100, "Canvas height in pixels")
	chunkSize := flag.Int("chunk-size", 5, "Chunk edge length")
	buffer := flag.Int("buffer", 5, "Prefetch buffer around the viewport, in pixels")
	maxInFlight := flag.Int("max-in-flight", 0, "Maximum concurrent chunk fetches (0 = default)")
	debounceMs := flag.Int("debounce-ms", 0, "Viewport settle debounce in milliseconds (0 = default)")
	fallbackMs := flag.Int("fallback-ms", 0, "Pending transaction fallback delay in milliseconds (0 = default)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory snapshot storage instead of PostgreSQL")
	useStub := flag.Bool("use-stub", false, "Run against an in-memory chain simulation")
	httpAddr := flag.String("http-addr", ":8080", "HTTP listen address")

	flag.Parse()

	logger := log.New(os.Stdout, "[canvas] ", log.LstdFlags|log.Lshortfile)

	if !*useStub {
		if *gatewayEndpoint == "" {
			logger.Fatal("--gateway-endpoint is required (or use --use-stub)")
		}
		if *contractAddr == "" {
			logger.Fatal("--contract-address is required (or use --use-stub)")
		}
	}
	if !*useMemory && *postgresDSN == "" && !*useStub {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory snapshots)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	codec, err := grid.NewCodec(*width, *height)
	if err != nil {
		logger.Fatalf("invalid canvas dimensions: %v", err)
	}

	// Chain clients
	var (
		client  chain.Client
		watcher chain.Watcher
	)
	address := *contractAddr
	if *useStub {
		sim := stub.NewClient(*width, *height)
		sim.AutoEmit = true
		client = sim
		watcher = sim
		if address == "" {
			address = "0xStubCanvas"
		}
		logger.Println("running against in-memory chain simulation")
	} else {
		client = chain.NewHTTPClient(*gatewayEndpoint)
		if *wsEndpoint != "" {
			ws, err := chain.NewWSClient(ctx, *wsEndpoint, nil)
			if err != nil {
				logger.Printf("websocket connect failed, running without live events: %v", err)
			} else {
				watcher = ws
				defer ws.Close()
			}
		}
	}

	// Snapshot storage
	var snapshots storage.PixelSnapshotStore
	switch {
	case *useMemory || (*useStub && *postgresDSN == ""):
		snapshots = memory.NewPixelSnapshotStore()
		logger.Println("using in-memory snapshot storage")
	default:
		pool, err := pgstore.NewPool(ctx, *postgresDSN)
		if err != nil {
			logger.Fatalf("postgres connect failed: %v", err)
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			logger.Fatalf("postgres migrations failed: %v", err)
		}
		snapshots = pgstore.NewPixelSnapshotStore(pool)
		logger.Println("using PostgreSQL snapshot storage")
	}

	metrics := observability.NewMetrics("")
	notifications := notify.NewRing(100)

	eng, err := engine.New(engine.Options{
		Client:        client,
		Watcher:       watcher,
		Address:       address,
		Codec:         codec,
		ChunkSize:     *chunkSize,
		Buffer:        *buffer,
		MaxInFlight:   *maxInFlight,
		DebounceDelay: time.Duration(*debounceMs) * time.Millisecond,
		FallbackDelay: time.Duration(*fallbackMs) * time.Millisecond,
		Snapshots:     snapshots,
		Notifier:      notifications,
		Metrics:       metrics,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatalf("engine init failed: %v", err)
	}

	var galleryClient *gallery.Client
	if *galleryURL != "" {
		galleryClient, err = gallery.NewClient(*galleryURL, address)
		if err != nil {
			logger.Fatalf("gallery init failed: %v", err)
		}
	}

	eng.Start(ctx)
	defer eng.Close()

	srv := &server{
		engine:        eng,
		gallery:       galleryClient,
		notifications: notifications,
		metrics:       metrics,
		logger:        logger,
		started:       time.Now(),
	}
	go srv.listen(*httpAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Printf("received %v, shutting down", sig)
}

// server is the HTTP surface over the engine.
type server struct {
	engine        *engine.Engine
	gallery       *gallery.Client
	notifications *notify.Ring
	metrics       *observability.Metrics
	logger        *log.Logger
	started       time.Time
}

func (s *server) listen(addr string) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/canvas", s.handleCanvas)
	mux.HandleFunc("/viewport/pan", s.handlePan)
	mux.HandleFunc("/viewport/zoom", s.handleZoom)
	mux.HandleFunc("/viewport/goto", s.handleGoTo)
	mux.HandleFunc("/pixels/mint", s.handleMint)
	mux.HandleFunc("/pixels/color", s.handleUpdateColor)
	mux.HandleFunc("/pixels/select", s.handleSelect)
	mux.HandleFunc("/pixels/commit", s.handleCommit)
	mux.HandleFunc("/pixels/approve", s.handleApprove)
	mux.HandleFunc("/compose", s.handleCompose)
	mux.HandleFunc("/refresh", s.handleRefresh)
	mux.HandleFunc("/gallery", s.handleGallery)
	mux.HandleFunc("/gallery/user/", s.handleGalleryByOwner)
	mux.HandleFunc("/notifications", s.handleNotifications)

	s.logger.Printf("HTTP server listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.Printf("HTTP server error: %v", err)
	}
}

// StatusResponse is the JSON response for the /status endpoint.
type StatusResponse struct {
	Status        string        `json:"status"`
	Uptime        string        `json:"uptime"`
	Viewport      grid.Viewport `json:"viewport"`
	TotalMinted   int64         `json:"total_minted"`
	EventsEnabled bool          `json:"events_enabled"`
	QueueDepth    int           `json:"queue_depth"`
	InFlight      int           `json:"in_flight"`
	LoadedChunks  int           `json:"loaded_chunks"`
	PendingPixels int           `json:"pending_pixels"`
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, StatusResponse{
		Status:        "running",
		Uptime:        time.Since(s.started).Round(time.Second).String(),
		Viewport:      s.engine.Viewport().Viewport(),
		TotalMinted:   s.engine.TotalMinted(),
		EventsEnabled: s.engine.EventsEnabled(),
		QueueDepth:    s.engine.QueueDepth(),
		InFlight:      s.engine.InFlight(),
		LoadedChunks:  len(s.engine.Store().LoadedChunks()),
		PendingPixels: len(s.engine.Tracker().Pending()),
	})
}

func (s *server) handleCanvas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.State())
}

func (s *server) handlePan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DX  int  `json:"dx"`
		DY  int  `json:"dy"`
		End bool `json:"end"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	s.engine.Viewport().Pan(req.DX, req.DY)
	if req.End {
		s.engine.Viewport().EndPan()
	}
	writeJSON(w, s.engine.Viewport().Viewport())
}

func (s *server) handleZoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Direction string `json:"direction"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	switch req.Direction {
	case "in":
		s.engine.Viewport().ZoomIn()
	case "out":
		s.engine.Viewport().ZoomOut()
	default:
		httpError(w, http.StatusBadRequest, fmt.Errorf("direction must be in or out"))
		return
	}
	writeJSON(w, s.engine.Viewport().Viewport())
}

func (s *server) handleGoTo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		X int `json:"x"`
		Y int `json:"y"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.engine.Viewport().GoTo(grid.Point{X: req.X, Y: req.Y}); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, s.engine.Viewport().Viewport())
}

type txResponse struct {
	TxHash string `json:"txHash"`
}

func (s *server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		X     int    `json:"x"`
		Y     int    `json:"y"`
		Color string `json:"color"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	txHash, err := s.engine.MintPixel(r.Context(), grid.Point{X: req.X, Y: req.Y}, req.Color)
	if err != nil {
		httpError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, txResponse{TxHash: txHash})
}

func (s *server) handleUpdateColor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		X     int    `json:"x"`
		Y     int    `json:"y"`
		Color string `json:"color"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	txHash, err := s.engine.UpdatePixelColor(r.Context(), grid.Point{X: req.X, Y: req.Y}, req.Color)
	if err != nil {
		httpError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, txResponse{TxHash: txHash})
}

func (s *server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		X        int    `json:"x"`
		Y        int    `json:"y"`
		Color    string `json:"color"`
		Deselect bool   `json:"deselect"`
		Clear    bool   `json:"clear"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	p := grid.Point{X: req.X, Y: req.Y}
	switch {
	case req.Clear:
		s.engine.ClearSelection()
	case req.Deselect:
		s.engine.Deselect(p)
	default:
		if err := s.engine.Select(p, req.Color); err != nil {
			httpError(w, http.StatusBadRequest, err)
			return
		}
	}
	writeJSON(w, s.engine.Selection())
}

func (s *server) handleCommit(w http.ResponseWriter, r *http.Request) {
	hashes, err := s.engine.CommitSelection(r.Context())
	if err != nil {
		httpError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, map[string]any{"txHashes": hashes})
}

func (s *server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Points []struct {
			X int `json:"x"`
			Y int `json:"y"`
		} `json:"points"`
		Operator  string   `json:"operator"`
		Operators []string `json:"operators"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	points := make([]grid.Point, len(req.Points))
	for i, pt := range req.Points {
		points[i] = grid.Point{X: pt.X, Y: pt.Y}
	}

	var (
		txHash string
		err    error
	)
	switch {
	case len(points) == 0:
		httpError(w, http.StatusBadRequest, fmt.Errorf("points are required"))
		return
	case len(req.Operators) > 0:
		txHash, err = s.engine.BatchApproveMultipleAddresses(r.Context(), points, req.Operators)
	case len(points) == 1:
		txHash, err = s.engine.ApprovePixel(r.Context(), points[0], req.Operator)
	default:
		txHash, err = s.engine.BatchApprove(r.Context(), points, req.Operator)
	}
	if err != nil {
		httpError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, txResponse{TxHash: txHash})
}

func (s *server) handleCompose(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StartX int `json:"startX"`
		StartY int `json:"startY"`
		EndX   int `json:"endX"`
		EndY   int `json:"endY"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	txHash, err := s.engine.ComposeRegion(r.Context(), req.StartX, req.StartY, req.EndX, req.EndY)
	if err != nil {
		httpError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, txResponse{TxHash: txHash})
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.engine.Refresh(r.Context())
	writeJSON(w, map[string]string{"status": "refreshing"})
}

func (s *server) handleGallery(w http.ResponseWriter, r *http.Request) {
	if s.gallery == nil {
		httpError(w, http.StatusNotFound, fmt.Errorf("gallery is not configured"))
		return
	}
	items, err := s.gallery.List(r.Context())
	if err != nil {
		httpError(w, http.StatusBadGateway, err)
		return
	}
	if r.URL.Query().Get("refresh") == "images" {
		items = s.refreshImages(r.Context(), items)
	}
	writeJSON(w, items)
}

func (s *server) handleGalleryByOwner(w http.ResponseWriter, r *http.Request) {
	if s.gallery == nil {
		httpError(w, http.StatusNotFound, fmt.Errorf("gallery is not configured"))
		return
	}
	owner := strings.TrimPrefix(r.URL.Path, "/gallery/user/")
	items, err := s.gallery.ListByOwner(r.Context(), owner)
	if err != nil {
		httpError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, items)
}

// refreshImages replaces possibly stale indexer images with the current
// on-chain renders. Best effort; the cached listing wins on error.
func (s *server) refreshImages(ctx context.Context, items []gallery.Item) []gallery.Item {
	if len(items) == 0 {
		return items
	}
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.TokenID
	}
	images, err := s.engine.TokenImages(ctx, ids)
	if err != nil {
		s.logger.Printf("image refresh failed: %v", err)
		return items
	}
	for i := range items {
		if images[i].Exists {
			items[i].Image = images[i].Image
		}
	}
	return items
}

func (s *server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.notifications.Recent())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, fmt.Errorf("POST required"))
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return false
	}
	return true
}

func httpError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
