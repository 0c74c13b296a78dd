package server

import (
    "context"
    "crypto/tls"
    "net"
    "net/http"
    "net/http/pprof"
    "strconv"
    "time"

    "github.com/gorilla/mux"
    "golang.org/x/net/netutil"

    . "github.com/forensix/evidencedb/logging"
    "github.com/forensix/evidencedb/metrics"
)

const DefaultMaxConnections = 1024

type ServerConfig struct {
    Host string
    Port int
    // MaxConnections bounds concurrent accepted connections. Zero means
    // DefaultMaxConnections.
    MaxConnections int
    TLSCertificate string
    TLSKey string
    EnableProfiling bool
}

// Server owns the HTTP listener a node serves its peers, clients and
// operators with. Endpoints attach themselves to Router() before Start is
// called.
type Server struct {
    httpServer *http.Server
    listener net.Listener
    router *mux.Router
    config ServerConfig
}

func NewServer(config ServerConfig) *Server {
    if config.MaxConnections <= 0 {
        config.MaxConnections = DefaultMaxConnections
    }

    server := &Server{
        router: mux.NewRouter(),
        config: config,
    }

    server.router.Handle("/metrics", metrics.Handler()).Methods("GET")

    if config.EnableProfiling {
        server.router.HandleFunc("/debug/pprof/", pprof.Index)
        server.router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
        server.router.HandleFunc("/debug/pprof/profile", pprof.Profile)
        server.router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
    }

    return server
}

func (server *Server) Router() *mux.Router {
    return server.router
}

func (server *Server) Port() int {
    return server.config.Port
}

// Start listens and serves until Stop is called or the listener fails. It
// blocks for the lifetime of the server.
func (server *Server) Start() error {
    server.httpServer = &http.Server{
        Handler: server.router,
        WriteTimeout: 0,
        ReadTimeout: 0,
    }

    listener, err := net.Listen("tcp", server.config.Host + ":" + strconv.Itoa(server.config.Port))

    if err != nil {
        Log.Errorf("Error listening on %s:%d: %v", server.config.Host, server.config.Port, err.Error())

        return err
    }

    listener = netutil.LimitListener(listener, server.config.MaxConnections)

    if server.config.TLSCertificate != "" {
        certificate, err := tls.LoadX509KeyPair(server.config.TLSCertificate, server.config.TLSKey)

        if err != nil {
            Log.Errorf("Error loading TLS key pair: %v", err.Error())

            listener.Close()

            return err
        }

        listener = tls.NewListener(listener, &tls.Config{ Certificates: []tls.Certificate{ certificate } })
    }

    server.listener = listener

    Log.Infof("Listening on %s:%d", server.config.Host, server.config.Port)

    err = server.httpServer.Serve(server.listener)

    Log.Errorf("Server shutting down. Reason: %v", err)

    return err
}

func (server *Server) Stop() error {
    if server.listener != nil {
        server.listener.Close()
    }

    if server.httpServer != nil {
        ctx, cancel := context.WithTimeout(context.Background(), time.Second * 5)
        defer cancel()

        server.httpServer.Shutdown(ctx)
    }

    return nil
}
