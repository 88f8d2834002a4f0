// Package health exposes the tracking connection's state over the standard
// gRPC health checking protocol so supervisors can probe the daemon.
package health

import (
	"fmt"
	"log"
	"net"
	"sync"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/motionframe/internal/tracking"
)

// Service is the health service name reported alongside the overall ("")
// status.
const Service = "motionframe.Tracking"

// Reporter is a tracking.Listener that mirrors connection state into a gRPC
// health server. The service is SERVING while the driver is connected and
// no device has reported a failure since the last device announcement. A
// dispatch loop failure holds it NOT_SERVING until the loop starts again.
type Reporter struct {
	tracking.BaseListener

	srv *grpchealth.Server

	mu        sync.Mutex
	connected bool
	failed    bool
	fatal     bool
}

// NewReporter returns a reporter whose services start NOT_SERVING.
func NewReporter() *Reporter {
	r := &Reporter{srv: grpchealth.NewServer()}
	r.publish()
	return r
}

// HealthServer returns the underlying health service implementation.
func (r *Reporter) HealthServer() *grpchealth.Server { return r.srv }

// Serving reports the status currently published.
func (r *Reporter) Serving() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.servingLocked()
}

func (r *Reporter) servingLocked() bool {
	return r.connected && !r.failed && !r.fatal
}

func (r *Reporter) update(fn func()) {
	r.mu.Lock()
	fn()
	r.mu.Unlock()
	r.publish()
}

func (r *Reporter) publish() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if r.Serving() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	r.srv.SetServingStatus("", status)
	r.srv.SetServingStatus(Service, status)
}

// OnInit implements tracking.Listener. It runs each time the dispatch loop
// starts, including automatic restarts.
func (r *Reporter) OnInit() { r.update(func() { r.fatal = false }) }

// OnConnect implements tracking.Listener.
func (r *Reporter) OnConnect() { r.update(func() { r.connected = true }) }

// OnDisconnect implements tracking.Listener.
func (r *Reporter) OnDisconnect() { r.update(func() { r.connected = false }) }

// OnDevice implements tracking.Listener.
func (r *Reporter) OnDevice(tracking.DeviceInfo) { r.update(func() { r.failed = false }) }

// OnDeviceFailure implements tracking.Listener.
func (r *Reporter) OnDeviceFailure(tracking.DeviceFailureEvent) {
	r.update(func() { r.failed = true })
}

// OnFatal implements tracking.Listener.
func (r *Reporter) OnFatal(error) { r.update(func() { r.fatal = true }) }

// Server hosts the health service on its own gRPC listener.
type Server struct {
	reporter *Reporter
	server   *grpc.Server
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer wraps reporter in a gRPC server.
func NewServer(reporter *Reporter) *Server {
	s := &Server{reporter: reporter, server: grpc.NewServer()}
	healthpb.RegisterHealthServer(s.server, reporter.srv)
	return s
}

// Start binds addr and serves in the background.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = lis

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Printf("[health] gRPC health service listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil {
			log.Printf("[health] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop marks every service NOT_SERVING and shuts the server down.
func (s *Server) Stop() {
	s.reporter.srv.Shutdown()
	s.server.GracefulStop()
	s.wg.Wait()
	log.Printf("[health] gRPC server stopped")
}
