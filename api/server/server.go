// Package server contains the main server struct and methods
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/apex/log"
	"github.com/blacktop/ipastore/api/server/routes"
	"github.com/blacktop/ipastore/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const shutdownTimeout = 5 * time.Second

// Config is the server config
type Config struct {
	Host     string
	Port     int
	Socket   string
	Debug    bool
	Services *routes.Services
}

// Server is the main server struct
type Server struct {
	router *gin.Engine
	server *http.Server
	conf   *Config
}

// NewServer creates a new server
func NewServer(conf *Config) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), requestID(), instrument())
	if conf.Debug {
		router.Use(gin.Logger())
	}
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	routes.Add(router.Group("/"), conf.Services)

	return &Server{
		router: router,
		conf:   conf,
		server: &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second},
	}
}

// Handler is the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) listen() (net.Listener, error) {
	if s.conf.Socket != "" {
		if err := os.MkdirAll(filepath.Dir(s.conf.Socket), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create socket folder: %w", err)
		}
		if err := os.Remove(s.conf.Socket); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale socket: %w", err)
		}
		return net.Listen("unix", s.conf.Socket)
	}
	return net.Listen("tcp", net.JoinHostPort(s.conf.Host, fmt.Sprint(s.conf.Port)))
}

// Start starts the server and blocks until it is stopped
func (s *Server) Start() error {
	l, err := s.listen()
	if err != nil {
		return err
	}
	log.WithField("addr", l.Addr().String()).Info("Listening")
	if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestID", id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

func instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
		log.WithFields(log.Fields{
			"id":     c.GetString("requestID"),
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		}).Debug("request")
	}
}
