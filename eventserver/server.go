package eventserver

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"isc.org/leasekeeper/dhcpclient"
)

// Maximum accepted size of the event body.
const maxEventSize = 1 << 20

// Accepts the events for the processing. The event bridge implements it.
type Submitter interface {
	Submit(iface string, pid int, options map[string]string, reason string) error
}

var _ Submitter = (*dhcpclient.EventBridge)(nil)

// HTTP server listening on the unix socket for the helper events.
type Server struct {
	socketPath string
	submitter  Submitter
	server     *http.Server
	listener   net.Listener
	wg         sync.WaitGroup
}

// Creates the server passing the events to the submitter.
func NewServer(socketPath string, submitter Submitter) *Server {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	server := &Server{
		socketPath: socketPath,
		submitter:  submitter,
	}
	mux := http.NewServeMux()
	mux.HandleFunc(EventsPath, server.handleEvent)
	server.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server
}

// Returns the socket path.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Starts listening. A stale socket file left by the previous instance is
// removed. Only the owner can connect to the socket.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return errors.Wrapf(err, "cannot create the directory of the %s socket", s.socketPath)
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "cannot remove stale socket %s", s.socketPath)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return errors.Wrapf(err, "cannot listen on socket %s", s.socketPath)
	}
	if err = os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return errors.Wrapf(err, "cannot set permissions of socket %s", s.socketPath)
	}
	s.listener = listener
	log.WithField("socket", s.socketPath).Info("Listening for DHCP helper events")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Problem serving DHCP helper events")
		}
	}()
	return nil
}

// Stops the server and removes the socket.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	s.listener = nil
	if removeErr := os.Remove(s.socketPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		log.WithError(removeErr).Warn("Cannot remove the DHCP helper socket")
	}
	return errors.Wrap(err, "cannot shut down DHCP helper event server")
}

// Handles the event posted by the helper.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var event Event
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventSize))
	if err == nil {
		err = json.Unmarshal(body, &event)
	}
	if err == nil {
		err = event.Validate()
	}
	if err != nil {
		log.WithError(err).Warn("Received malformed DHCP helper event")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	log.WithFields(log.Fields{
		"iface":  event.Interface,
		"pid":    event.Pid,
		"reason": event.Reason,
	}).Debug("Received DHCP helper event")

	if err = s.submitter.Submit(event.Interface, event.Pid, event.Options, event.Reason); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
