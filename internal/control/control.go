// Package control implements the daemon's TCP control server: a stream of
// concatenated JSON requests, one reply per request (spec §6 "Wire
// protocol"), grounded on the original server's accept loop and connection
// cap but retargeted from Rust's externally-tagged enum onto the flat
// pkg/client.Request/Reply shape.
package control

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/loykin/ppm/internal/config"
	"github.com/loykin/ppm/internal/logging"
	"github.com/loykin/ppm/internal/monitor"
	"github.com/loykin/ppm/internal/service"
	"github.com/loykin/ppm/pkg/client"
)

// maxConnections caps concurrent control-channel clients (spec §6, ported
// from the original server's MAX_CONNECTIONS).
const maxConnections = 16

const (
	defaultReadTimeout  = 5 * time.Second
	extendedReadTimeout = 30 * time.Second
)

// Server accepts control-channel connections and dispatches each decoded
// request against a Monitor.
type Server struct {
	ln      net.Listener
	mon     *monitor.Monitor
	cfg     *config.Config
	log     *slog.Logger
	conns   atomic.Int64
	closing atomic.Bool
}

// New binds addr and returns a Server ready to Run. Restart/stop requests
// are dispatched through mon, which already holds the launcher path and
// logger used to spawn services.
func New(addr string, mon *monitor.Monitor, cfg *config.Config, log *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("control: listen %s: %w", addr, err)
	}
	if log == nil {
		log = slog.Default()
	}
	log.Info("control server listening", "addr", ln.Addr().String())
	return &Server{ln: ln, mon: mon, cfg: cfg, log: log}, nil
}

// Addr returns the bound address, useful when addr was "127.0.0.1:0".
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Close stops accepting new connections.
func (s *Server) Close() error {
	s.closing.Store(true)
	return s.ln.Close()
}

// Run accepts connections until Close is called, rejecting any beyond
// maxConnections (spec §6, ported from the original ServerToken pattern).
func (s *Server) Run() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.closing.Load() {
				return nil
			}
			return fmt.Errorf("control: accept: %w", err)
		}
		if s.conns.Add(1) > maxConnections {
			s.conns.Add(-1)
			s.log.Warn("connection rejected, too many clients", "remote", conn.RemoteAddr())
			_ = conn.Close()
			continue
		}
		go func() {
			defer s.conns.Add(-1)
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	remote := conn.RemoteAddr()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(defaultReadTimeout))
		var req client.Request
		if err := dec.Decode(&req); err != nil {
			if err.Error() != "EOF" {
				s.log.Debug("control connection closed", "remote", remote, "error", err)
			}
			return
		}
		if isExtendedAction(req.Action) {
			_ = conn.SetReadDeadline(time.Now().Add(extendedReadTimeout))
		}

		reply := s.dispatch(req)
		if err := enc.Encode(reply); err != nil {
			s.log.Warn("control reply write failed", "remote", remote, "error", err)
			return
		}
	}
}

func isExtendedAction(action string) bool {
	switch action {
	case "restart", "start", "stop", "terminate", "remove", "rm":
		return true
	default:
		return false
	}
}

// dispatch routes one request to its handler, translating the spec's
// several accepted aliases for each CLI verb onto a single action (spec
// §6 "CLI surface").
func (s *Server) dispatch(req client.Request) client.Reply {
	switch req.Action {
	case "daemon":
		return errorReply(fmt.Errorf("control: daemon is already running"))
	case "info", "list", "ls", "daemon-stats":
		return s.handleList()
	case "stats", "statistics", "details":
		return s.handleDetails(req)
	case "restart", "start":
		return s.handleRestart(req)
	case "stop", "terminate":
		return s.handleStop(req)
	case "add":
		return s.handleAdd(req)
	case "remove", "rm":
		return s.handleRemove(req)
	case "show-configuration", "show-config", "config":
		return s.handleShowConfig()
	case "show-scheduler":
		return s.handleShowScheduler()
	case "logs", "list-log-files":
		return s.handleListLogFiles(req)
	default:
		return errorReply(fmt.Errorf("control: unknown action %q", req.Action))
	}
}

type serviceSummary struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Active bool   `json:"active"`
	PID    int    `json:"pid,omitempty"`
}

func (s *Server) handleList() client.Reply {
	svcs := s.mon.Services()
	out := make([]serviceSummary, 0, len(svcs))
	for _, svc := range svcs {
		info := svc.Info()
		out = append(out, serviceSummary{ID: info.ID, Name: info.Name, Status: info.Status.String(), Active: info.Active, PID: info.PID})
	}
	return resultReply(out)
}

type serviceDetails struct {
	Info  service.Info  `json:"info"`
	Stats service.Stats `json:"stats"`
}

func (s *Server) handleDetails(req client.Request) client.Reply {
	svc, err := s.findByName(req.Service)
	if err != nil {
		return errorReply(err)
	}
	return resultReply(serviceDetails{Info: svc.Info(), Stats: svc.Stats()})
}

func (s *Server) handleRestart(req client.Request) client.Reply {
	svc, err := s.findByName(req.Service)
	if err != nil {
		return errorReply(err)
	}
	if err := s.mon.Restart(svc.ID()); err != nil {
		return errorReply(fmt.Errorf("control: restart %s: %w", req.Service, err))
	}
	return resultReply(nil)
}

func (s *Server) handleStop(req client.Request) client.Reply {
	svc, err := s.findByName(req.Service)
	if err != nil {
		return errorReply(err)
	}
	if err := s.mon.Stop(svc.ID()); err != nil {
		return errorReply(fmt.Errorf("control: stop %s: %w", req.Service, err))
	}
	return resultReply(nil)
}

func (s *Server) handleAdd(req client.Request) client.Reply {
	sp := service.Spec{
		Name:    req.Name,
		Command: service.Command{Path: req.Path, Args: req.Args, Env: req.Env},
		WorkDir: req.Workdir,
	}
	svc, err := s.mon.Insert(sp)
	if err != nil {
		return errorReply(fmt.Errorf("control: add %s: %w", req.Name, err))
	}
	return resultReply(svc.ID())
}

func (s *Server) handleRemove(req client.Request) client.Reply {
	svc, err := s.findByName(req.Service)
	if err != nil {
		return errorReply(err)
	}
	if err := s.mon.Remove(svc.ID()); err != nil {
		return errorReply(fmt.Errorf("control: remove %s: %w", req.Service, err))
	}
	return resultReply(nil)
}

func (s *Server) handleShowConfig() client.Reply {
	return resultReply(s.cfg)
}

func (s *Server) handleShowScheduler() client.Reply {
	return resultReply(s.mon.Scheduler().Dump())
}

func (s *Server) handleListLogFiles(req client.Request) client.Reply {
	if s.cfg == nil || s.cfg.Logger.Dir == "" {
		return errorReply(fmt.Errorf("control: no logger directory configured"))
	}
	files, err := logging.ListFiles(s.cfg.Logger.Dir, req.Service)
	if err != nil {
		return errorReply(err)
	}
	return resultReply(files)
}

func (s *Server) findByName(name string) (*service.Service, error) {
	for _, svc := range s.mon.Services() {
		if svc.Name() == name {
			return svc, nil
		}
	}
	return nil, fmt.Errorf("control: unknown service %q", name)
}

func resultReply(v any) client.Reply {
	if v == nil {
		return client.Reply{Result: json.RawMessage("null")}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return errorReply(fmt.Errorf("control: marshal result: %w", err))
	}
	return client.Reply{Result: raw}
}

func errorReply(err error) client.Reply {
	return client.Reply{Error: err.Error()}
}
