package api

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"github.com/healthtrack/trend-engine/internal/models"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "trends.v1.TrendEngine"

const (
	methodAnalyzeTrend    = "/" + ServiceName + "/AnalyzeTrend"
	methodInvalidateCache = "/" + ServiceName + "/InvalidateCache"
	methodCleanupExpired  = "/" + ServiceName + "/CleanupExpired"
)

// AnalyzeTrendRequest asks for the trend of one metric over a relative window.
type AnalyzeTrendRequest struct {
	UserID    string `json:"user_id"`
	Metric    string `json:"metric"`
	TimeRange string `json:"time_range"`
}

// AnalyzeTrendResponse carries the regression and its reading. Found is false
// when the data did not support a trend; Interpretation then reports
// "Insufficient data".
type AnalyzeTrendResponse struct {
	Found          bool                       `json:"found"`
	Result         *models.RegressionResult   `json:"result,omitempty"`
	Interpretation models.TrendInterpretation `json:"interpretation"`
	SampleSize     int                        `json:"sample_size"`
	Cached         bool                       `json:"cached"`
	ComputedAt     *time.Time                 `json:"computed_at,omitempty"`
}

// InvalidateCacheRequest selects cached trends of a user. Empty Metric or
// TimeRange match every value.
type InvalidateCacheRequest struct {
	UserID    string `json:"user_id"`
	Metric    string `json:"metric,omitempty"`
	TimeRange string `json:"time_range,omitempty"`
}

// InvalidateCacheResponse reports how many cached trends were dropped.
type InvalidateCacheResponse struct {
	Removed int `json:"removed"`
}

// CleanupExpiredRequest expires cached trends older than MaxAge, a Go duration
// string. An empty MaxAge uses the configured retention.
type CleanupExpiredRequest struct {
	MaxAge string `json:"max_age,omitempty"`
}

// CleanupExpiredResponse reports how many cached trends were expired.
type CleanupExpiredResponse struct {
	Removed int `json:"removed"`
}

// TrendEngineServer is the server API for the TrendEngine service.
type TrendEngineServer interface {
	AnalyzeTrend(context.Context, *AnalyzeTrendRequest) (*AnalyzeTrendResponse, error)
	InvalidateCache(context.Context, *InvalidateCacheRequest) (*InvalidateCacheResponse, error)
	CleanupExpired(context.Context, *CleanupExpiredRequest) (*CleanupExpiredResponse, error)
}

// RegisterTrendEngineServer attaches srv to a gRPC service registrar.
func RegisterTrendEngineServer(s grpc.ServiceRegistrar, srv TrendEngineServer) {
	s.RegisterService(&trendEngineServiceDesc, srv)
}

var trendEngineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TrendEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AnalyzeTrend", Handler: analyzeTrendHandler},
		{MethodName: "InvalidateCache", Handler: invalidateCacheHandler},
		{MethodName: "CleanupExpired", Handler: cleanupExpiredHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "trends/v1/trend_engine",
}

func analyzeTrendHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AnalyzeTrendRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TrendEngineServer).AnalyzeTrend(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodAnalyzeTrend}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(TrendEngineServer).AnalyzeTrend(ctx, req.(*AnalyzeTrendRequest))
	})
}

func invalidateCacheHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InvalidateCacheRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TrendEngineServer).InvalidateCache(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodInvalidateCache}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(TrendEngineServer).InvalidateCache(ctx, req.(*InvalidateCacheRequest))
	})
}

func cleanupExpiredHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CleanupExpiredRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TrendEngineServer).CleanupExpired(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodCleanupExpired}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(TrendEngineServer).CleanupExpired(ctx, req.(*CleanupExpiredRequest))
	})
}

// TrendEngineClient calls the TrendEngine service with the JSON codec.
type TrendEngineClient struct {
	cc grpc.ClientConnInterface
}

// NewTrendEngineClient wraps an established connection.
func NewTrendEngineClient(cc grpc.ClientConnInterface) *TrendEngineClient {
	return &TrendEngineClient{cc: cc}
}

// AnalyzeTrend calls TrendEngine.AnalyzeTrend.
func (c *TrendEngineClient) AnalyzeTrend(ctx context.Context, in *AnalyzeTrendRequest, opts ...grpc.CallOption) (*AnalyzeTrendResponse, error) {
	out := new(AnalyzeTrendResponse)
	if err := c.cc.Invoke(ctx, methodAnalyzeTrend, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// InvalidateCache calls TrendEngine.InvalidateCache.
func (c *TrendEngineClient) InvalidateCache(ctx context.Context, in *InvalidateCacheRequest, opts ...grpc.CallOption) (*InvalidateCacheResponse, error) {
	out := new(InvalidateCacheResponse)
	if err := c.cc.Invoke(ctx, methodInvalidateCache, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// CleanupExpired calls TrendEngine.CleanupExpired.
func (c *TrendEngineClient) CleanupExpired(ctx context.Context, in *CleanupExpiredRequest, opts ...grpc.CallOption) (*CleanupExpiredResponse, error) {
	out := new(CleanupExpiredResponse)
	if err := c.cc.Invoke(ctx, methodCleanupExpired, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withJSON(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
