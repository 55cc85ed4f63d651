package api

import (
	"testing"

	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestJSONCodecPlainStructs(t *testing.T) {
	codec := jsonCodec{}
	data, err := codec.Marshal(&AnalyzeTrendRequest{UserID: "u1", Metric: "mood", TimeRange: "7d"})
	require.NoError(t, err)
	require.JSONEq(t, `{"user_id":"u1","metric":"mood","time_range":"7d"}`, string(data))

	var decoded AnalyzeTrendRequest
	require.NoError(t, codec.Unmarshal(data, &decoded))
	require.Equal(t, "mood", decoded.Metric)

	require.Error(t, codec.Unmarshal([]byte("{"), &decoded))
}

func TestJSONCodecProtoMessages(t *testing.T) {
	codec := jsonCodec{}
	data, err := codec.Marshal(&healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING})
	require.NoError(t, err)
	require.Contains(t, string(data), "SERVING")

	var decoded healthpb.HealthCheckResponse
	require.NoError(t, codec.Unmarshal(data, &decoded))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, decoded.GetStatus())
}
