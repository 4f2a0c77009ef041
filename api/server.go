package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/moyoez/csvjobs-dashboard/api/controllers"
	"github.com/moyoez/csvjobs-dashboard/api/defaults"
	"github.com/moyoez/csvjobs-dashboard/api/middlewares"
	"github.com/moyoez/csvjobs-dashboard/api/notifyhub"
	"github.com/moyoez/csvjobs-dashboard/tool"
	"github.com/moyoez/csvjobs-dashboard/types"
)

// Deps are the collaborators the dashboard routes call into.
type Deps struct {
	Jobs     controllers.JobSource
	Uploader controllers.JobUploader
	Reports  controllers.ReportDownloader
	Hook     controllers.UploadHook
	// Hub enables /notify-ws when set.
	Hub *notifyhub.Hub
}

// Server is the local dashboard API
type Server struct {
	port   int
	deps   Deps
	engine *gin.Engine
	server *http.Server
	mu     sync.RWMutex
}

func NewServer(port int, deps Deps) *Server {
	return &Server{
		port: port,
		deps: deps,
	}
}

// Handler returns the gin engine, building it on first use.
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		s.engine = s.setupRoutes()
	}
	return s.engine
}

func (s *Server) setupRoutes() *gin.Engine {
	if tool.DefaultLogger.GetLevel() == log.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	// ClientIP must come from RemoteAddr, OnlyAllowLocal relies on it
	if err := engine.SetTrustedProxies(nil); err != nil {
		tool.DefaultLogger.Errorf("Failed to reset trusted proxies: %v", err)
	}
	if gin.Mode() == gin.DebugMode {
		engine.Use(gin.Logger())
	}
	engine.Use(middlewares.AllowAllCORS())
	engine.Use(gin.Recovery())

	jobsCtrl := controllers.NewJobsController(s.deps.Jobs)
	uploadCtrl := controllers.NewUploadController(s.deps.Uploader, s.deps.Jobs, s.deps.Hook)
	reportCtrl := controllers.NewReportController(s.deps.Jobs, s.deps.Reports)
	statusCtrl := controllers.NewStatusController(s.deps.Jobs)

	self := engine.Group("/api/self/v1", middlewares.OnlyAllowLocal)
	{
		self.GET("/jobs", jobsCtrl.HandleList)                           // Current job snapshot
		self.POST("/refresh", jobsCtrl.HandleRefresh)                    // Re-fetch the job list (rate limited)
		self.POST("/upload", uploadCtrl.HandleUpload)                    // Multipart CSV upload proxy
		self.GET("/jobs/:id/error-report", reportCtrl.HandleErrorReport) // Error report download
		self.GET("/status", statusCtrl.HandleStatus)                     // Running and notifyWsEnabled for web UI
		self.GET("/create-qr-code", controllers.GenerateQRCode)          // QR code PNG (same params as api.qrserver.com)
		if s.deps.Hub != nil {
			self.GET("/notify-ws", notifyhub.HandleNotifyWS(s.deps.Hub, func() *types.Notification {
				return defaults.JobsUpdatedNotification(s.deps.Jobs.Snapshot())
			}))
		}
	}
	return engine
}

// Start starts the HTTP server and blocks until it stops. Shutdown makes it return nil.
func (s *Server) Start() error {
	handler := s.Handler()

	s.mu.Lock()
	s.server = &http.Server{
		Addr:    s.Addr(),
		Handler: handler,
	}
	srv := s.server
	s.mu.Unlock()

	tool.DefaultLogger.Infof("Starting dashboard API on %s", s.URL())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops a started server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Addr is the loopback listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", s.port)
}

// URL is the local address of the dashboard API.
func (s *Server) URL() string {
	return "http://" + s.Addr() + "/api/self/v1"
}
