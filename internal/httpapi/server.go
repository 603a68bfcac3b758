// Package httpapi serves the pair cache over HTTP and streams store changes
// over WebSocket.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"pairsync/internal/customasset"
	"pairsync/internal/metrics"
	"pairsync/internal/model"
	"pairsync/internal/pairs"
)

// PairSource is the read side of the sync engine.
type PairSource interface {
	View() pairs.View
	ViewOf(network string) pairs.View
	Status(network string) pairs.Status
	Statuses() []pairs.Status
	Trigger()
}

// NetworkControl selects the active network and connectivity.
type NetworkControl interface {
	Current() (name string, online bool)
	SetNetwork(name string) bool
	SetOnline(online bool) bool
}

// Registry lists the derived assets of a network.
type Registry interface {
	ListAssets(network string) []model.Asset
	Contains(network, address string) bool
}

// CustomAssets manages user-added assets.
type CustomAssets interface {
	Add(network string, asset model.Asset) (model.CustomAsset, error)
	Get(network, address string) (model.CustomAsset, error)
	List(network string) ([]model.CustomAsset, error)
	RemoveCustomAsset(network, address string) (bool, error)
}

// Config wires the server to the engine and its stores.
type Config struct {
	Pairs        PairSource
	Network      NetworkControl
	Registry     Registry
	CustomAssets CustomAssets
	Hub          *Hub
	Gatherer     prometheus.Gatherer
	// Networks restricts PUT /network to these names when set.
	Networks     []string
	Logger       *zap.Logger
}

// APIRespond is the envelope of every JSON response.
type APIRespond struct {
	Result interface{}
	Error  *string
}

type Server struct {
	cfg    Config
	logger *zap.Logger
	router *gin.Engine
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Pairs == nil || cfg.Network == nil || cfg.Registry == nil {
		return nil, errors.New("pairs, network and registry are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{cfg: cfg, logger: logger}
	s.router = s.routes()
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	return nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/ws"})))

	r.GET("/health", s.health)

	r.GET("/pairs", s.listPairs)
	r.GET("/pairs/contract/:contract", s.getPair)
	r.GET("/pairs/lp/:lp", s.getPairByLp)
	r.GET("/pairs/find", s.findPair)

	r.GET("/assets", s.listAssets)
	r.GET("/assets/available", s.availableAssets)
	r.GET("/assets/paired", s.pairedAddresses)

	r.GET("/custom-assets", s.listCustomAssets)
	r.POST("/custom-assets", s.addCustomAsset)
	r.DELETE("/custom-assets", s.removeCustomAsset)

	r.GET("/network", s.getNetwork)
	r.PUT("/network", s.putNetwork)
	r.GET("/status", s.status)
	r.GET("/statuses", s.statuses)
	r.POST("/sync", s.sync)

	if s.cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(s.cfg.Gatherer)))
	}
	if s.cfg.Hub != nil {
		r.GET("/ws", s.cfg.Hub.ServeWS)
	}
	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}

func respond(c *gin.Context, result interface{}) {
	c.JSON(http.StatusOK, APIRespond{Result: result})
}

func respondError(c *gin.Context, status int, err error) {
	errStr := err.Error()
	c.JSON(status, APIRespond{Error: &errStr})
}

// view picks the partition named by ?network=, or the active one.
func (s *Server) view(c *gin.Context) pairs.View {
	if name := strings.ToLower(strings.TrimSpace(c.Query("network"))); name != "" {
		return s.cfg.Pairs.ViewOf(name)
	}
	return s.cfg.Pairs.View()
}

func (s *Server) networkParam(c *gin.Context) string {
	if name := strings.ToLower(strings.TrimSpace(c.Query("network"))); name != "" {
		return name
	}
	name, _ := s.cfg.Network.Current()
	return name
}

func (s *Server) health(c *gin.Context) {
	respond(c, "OK")
}

type pairsResult struct {
	Network string       `json:"network"`
	Loading bool         `json:"loading"`
	Pairs   []model.Pair `json:"pairs"`
}

func (s *Server) listPairs(c *gin.Context) {
	v := s.view(c)
	list := v.Pairs()
	if list == nil {
		list = []model.Pair{}
	}
	respond(c, pairsResult{Network: v.Network(), Loading: v.Loading(), Pairs: list})
}

func (s *Server) getPair(c *gin.Context) {
	pair, ok := s.view(c).GetPair(c.Param("contract"))
	if !ok {
		respondError(c, http.StatusNotFound, pairs.ErrPairNotFound)
		return
	}
	respond(c, pair)
}

func (s *Server) getPairByLp(c *gin.Context) {
	pair, ok := s.view(c).FindPairByLpAddress(c.Param("lp"))
	if !ok {
		respondError(c, http.StatusNotFound, pairs.ErrPairNotFound)
		return
	}
	respond(c, pair)
}

// findPair expects exactly two ?asset= values.
func (s *Server) findPair(c *gin.Context) {
	assets := c.QueryArray("asset")
	if len(assets) != 2 {
		respondError(c, http.StatusBadRequest, errors.New("exactly two asset parameters are required"))
		return
	}
	pair, ok := s.view(c).FindPair([2]string{assets[0], assets[1]})
	if !ok {
		respondError(c, http.StatusNotFound, pairs.ErrPairNotFound)
		return
	}
	respond(c, pair)
}

func (s *Server) listAssets(c *gin.Context) {
	list := s.cfg.Registry.ListAssets(s.networkParam(c))
	if list == nil {
		list = []model.Asset{}
	}
	respond(c, list)
}

func (s *Server) availableAssets(c *gin.Context) {
	respond(c, s.view(c).AvailableAssetAddresses())
}

func (s *Server) pairedAddresses(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		respondError(c, http.StatusBadRequest, errors.New("address is required"))
		return
	}
	// nil means the partition has not loaded yet.
	respond(c, s.view(c).GetPairedAddresses(address))
}

func (s *Server) listCustomAssets(c *gin.Context) {
	if s.cfg.CustomAssets == nil {
		respond(c, []model.CustomAsset{})
		return
	}
	if address := c.Query("address"); address != "" {
		asset, err := s.cfg.CustomAssets.Get(s.networkParam(c), address)
		if err != nil {
			if errors.Is(err, customasset.ErrNotFound) {
				respondError(c, http.StatusNotFound, err)
				return
			}
			respondError(c, http.StatusBadRequest, err)
			return
		}
		respond(c, asset)
		return
	}
	list, err := s.cfg.CustomAssets.List(s.networkParam(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []model.CustomAsset{}
	}
	respond(c, list)
}

func (s *Server) addCustomAsset(c *gin.Context) {
	if s.cfg.CustomAssets == nil {
		respondError(c, http.StatusNotImplemented, errors.New("custom assets are disabled"))
		return
	}
	var asset model.Asset
	if err := c.ShouldBindJSON(&asset); err != nil {
		respondError(c, http.StatusBadRequest, fmt.Errorf("decode asset: %w", err))
		return
	}
	network := s.networkParam(c)
	asset.Address = strings.TrimSpace(asset.Address)
	if s.isListed(network, asset.Address) {
		respondError(c, http.StatusConflict, fmt.Errorf("asset %s is already listed", asset.Address))
		return
	}
	stored, err := s.cfg.CustomAssets.Add(network, asset)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusCreated, APIRespond{Result: stored})
}

// isListed reports whether pair data already covers address.
func (s *Server) isListed(network, address string) bool {
	if s.cfg.Registry.Contains(network, address) {
		return true
	}
	for _, available := range s.cfg.Pairs.ViewOf(network).AvailableAssetAddresses().Addresses {
		if available == address {
			return true
		}
	}
	return false
}

func (s *Server) removeCustomAsset(c *gin.Context) {
	if s.cfg.CustomAssets == nil {
		respondError(c, http.StatusNotImplemented, errors.New("custom assets are disabled"))
		return
	}
	address := c.Query("address")
	if address == "" {
		respondError(c, http.StatusBadRequest, errors.New("address is required"))
		return
	}
	if _, err := s.cfg.CustomAssets.RemoveCustomAsset(s.networkParam(c), address); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type networkState struct {
	Name   string `json:"name"`
	Online bool   `json:"online"`
}

type networkUpdate struct {
	Name   *string `json:"name"`
	Online *bool   `json:"online"`
}

func (s *Server) getNetwork(c *gin.Context) {
	name, online := s.cfg.Network.Current()
	respond(c, networkState{Name: name, Online: online})
}

// putNetwork switches network and/or connectivity, as a wallet would.
func (s *Server) putNetwork(c *gin.Context) {
	var update networkUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		respondError(c, http.StatusBadRequest, fmt.Errorf("decode network: %w", err))
		return
	}
	if update.Name == nil && update.Online == nil {
		respondError(c, http.StatusBadRequest, errors.New("name or online is required"))
		return
	}
	if update.Name != nil && !s.knownNetwork(*update.Name) {
		respondError(c, http.StatusBadRequest, fmt.Errorf("unknown network: %s", *update.Name))
		return
	}
	if update.Name != nil {
		if s.cfg.Network.SetNetwork(*update.Name) {
			s.logger.Info("network switched", zap.String("network", *update.Name))
		}
	}
	if update.Online != nil {
		s.cfg.Network.SetOnline(*update.Online)
	}
	name, online := s.cfg.Network.Current()
	respond(c, networkState{Name: name, Online: online})
}

func (s *Server) knownNetwork(name string) bool {
	if len(s.cfg.Networks) == 0 {
		return true
	}
	name = strings.ToLower(strings.TrimSpace(name))
	for _, known := range s.cfg.Networks {
		if known == name {
			return true
		}
	}
	return false
}

func (s *Server) status(c *gin.Context) {
	respond(c, s.cfg.Pairs.Status(s.networkParam(c)))
}

func (s *Server) statuses(c *gin.Context) {
	respond(c, s.cfg.Pairs.Statuses())
}

func (s *Server) sync(c *gin.Context) {
	s.cfg.Pairs.Trigger()
	c.JSON(http.StatusAccepted, APIRespond{Result: s.cfg.Pairs.Status(s.networkParam(c))})
}
