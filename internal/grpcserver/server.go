package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"rectipano/internal/geom"
	"rectipano/internal/pipeline"
	"rectipano/internal/rectify"
)

// ServiceName is the fully qualified gRPC service.
const ServiceName = "rectipano.v1.Rectifier"

// Submitter queues pipeline jobs.
type Submitter interface {
	Submit(job pipeline.Job) error
}

// RectifierServer is the service contract. Messages are structpb.Struct so
// no generated code is needed.
type RectifierServer interface {
	Solve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// Server implements RectifierServer over the job pipeline.
type Server struct {
	pipe     Submitter
	geometry rectify.Config
	log      *slog.Logger
	health   *health.Server
}

// New creates a server; pipe may be nil, in which case Submit is unavailable.
func New(pipe Submitter, geometry rectify.Config, log *slog.Logger) *Server {
	return &Server{
		pipe:     pipe,
		geometry: geometry,
		log:      log,
		health:   health.NewServer(),
	}
}

// Register attaches the rectifier and health services to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&rectifierServiceDesc, s)
	healthpb.RegisterHealthServer(gs, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	gs := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{Time: 60 * time.Second, Timeout: 10 * time.Second}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 20 * time.Second, PermitWithoutStream: true}),
	)
	s.Register(gs)

	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		gs.GracefulStop()
	}()

	s.log.Info("grpc server starting", "addr", lis.Addr().String())
	if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Solve turns {mode, points} into {mode, specs}.
func (s *Server) Solve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	args := in.AsMap()
	modeName, _ := args["mode"].(string)
	mode, err := rectify.ParseMode(modeName)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	points, err := geom.PointsFromValue(args["points"])
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	specs, err := rectify.BuildSpecs(points, mode, s.geometry)
	if err != nil {
		return nil, statusFor(err)
	}

	list := make([]any, len(specs))
	for i, sp := range specs {
		list[i] = specToMap(sp)
	}
	return structpb.NewStruct(map[string]any{
		"mode":  string(mode),
		"specs": list,
	})
}

// Submit queues {type, input, output, options} and returns {id}.
func (s *Server) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.pipe == nil {
		return nil, status.Error(codes.Unavailable, "pipeline not running")
	}
	args := in.AsMap()
	kind, _ := args["type"].(string)
	input, _ := args["input"].(string)
	output, _ := args["output"].(string)
	options, _ := args["options"].(map[string]any)

	job, err := pipeline.NewJob(kind, input, output, options)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	job.Options["source"] = "grpc"
	if err := s.pipe.Submit(job); err != nil {
		return nil, status.Error(codes.ResourceExhausted, err.Error())
	}
	s.log.Info("job queued", "type", job.Type, "id", job.ID, "input", job.InputPath)
	return structpb.NewStruct(map[string]any{"id": job.ID})
}

func statusFor(err error) error {
	var verr *geom.ValidationError
	switch {
	case errors.As(err, &verr):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, geom.ErrSingular):
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func specToMap(sp rectify.TransformSpec) map[string]any {
	quad := make([]any, len(sp.SourceQuad))
	for i, p := range sp.SourceQuad {
		quad[i] = map[string]any{"x": p.X, "y": p.Y}
	}
	matrix := make([]any, len(sp.Matrix))
	for i, v := range sp.Matrix {
		matrix[i] = v
	}
	return map[string]any{
		"tag":    sp.Tag,
		"quad":   quad,
		"matrix": matrix,
		"width":  sp.OutputSize.Width,
		"height": sp.OutputSize.Height,
	}
}

var rectifierServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RectifierServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Solve", Handler: unaryHandler("Solve", RectifierServer.Solve)},
		{MethodName: "Submit", Handler: unaryHandler("Submit", RectifierServer.Submit)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rectipano/v1/rectifier.proto",
}

type unaryMethod func(RectifierServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RectifierServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RectifierServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Client calls a remote Rectifier.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

// Solve calls Rectifier/Solve.
func (c *Client) Solve(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Solve", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Submit calls Rectifier/Submit.
func (c *Client) Submit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Submit", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
