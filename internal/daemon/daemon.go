// Package daemon provides the daemon interface and implementation.
package daemon

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/blacktop/ipastore/api/server"
	"github.com/blacktop/ipastore/api/server/routes"
	"github.com/blacktop/ipastore/internal/appstore"
	"github.com/blacktop/ipastore/internal/config"
	"github.com/blacktop/ipastore/internal/store"
	"github.com/blacktop/ipastore/internal/transport"
	"github.com/gin-gonic/gin"
)

// Daemon is the interface that describes an ipastore daemon.
type Daemon interface {
	// Start starts the daemon.
	Start() error
	// Stop stops the daemon.
	Stop() error
}

type daemon struct {
	server *server.Server
	kv     store.Store
	conf   *config.Config
}

// NewDaemon creates a new daemon.
func NewDaemon(conf *config.Config) Daemon {
	return &daemon{conf: conf}
}

// Client builds the store client described by conf
func Client(ctx context.Context, conf *config.Config) (*appstore.Client, store.Store, error) {
	doer, err := transport.NewClient(conf.TransportConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create http client: %w", err)
	}
	asConf, err := conf.AppStoreConfig()
	if err != nil {
		return nil, nil, err
	}
	kv, err := store.Open(ctx, conf.StoreConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s store: %w", conf.Storage.Backend, err)
	}
	return appstore.New(asConf, doer, kv), kv, nil
}

func (d *daemon) Start() error {
	if d.conf.Daemon.Debug {
		gin.SetMode(gin.DebugMode)
		log.SetLevel(log.DebugLevel)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	client, kv, err := Client(context.Background(), d.conf)
	if err != nil {
		return err
	}
	d.kv = kv

	d.server = server.NewServer(&server.Config{
		Host:   d.conf.Daemon.Host,
		Port:   d.conf.Daemon.Port,
		Socket: d.conf.Daemon.Socket,
		Debug:  d.conf.Daemon.Debug,
		Services: &routes.Services{
			Auth:     client.Auth,
			Store:    client.Store,
			Versions: client.Versions,
		},
	})
	return d.server.Start()
}

func (d *daemon) Stop() error {
	var err error
	if d.server != nil {
		err = d.server.Stop()
	}
	if d.kv != nil {
		if cerr := d.kv.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
