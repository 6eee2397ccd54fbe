package kvs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideo"
	kvtypes "github.com/aws/aws-sdk-go-v2/service/kinesisvideo/types"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camwatch/frameparser-autoscaler"
)

type fakeStreams struct {
	pages [][]kvtypes.StreamInfo
	err   error
	calls []*kinesisvideo.ListStreamsInput
}

func (f *fakeStreams) ListStreams(_ context.Context, in *kinesisvideo.ListStreamsInput, _ ...func(*kinesisvideo.Options)) (*kinesisvideo.ListStreamsOutput, error) {
	copied := *in
	f.calls = append(f.calls, &copied)
	if f.err != nil {
		return nil, f.err
	}

	page := 0
	if in.NextToken != nil {
		fmt.Sscanf(*in.NextToken, "page-%d", &page)
	}
	out := &kinesisvideo.ListStreamsOutput{}
	if page < len(f.pages) {
		out.StreamInfoList = f.pages[page]
	}
	if page+1 < len(f.pages) {
		out.NextToken = aws.String(fmt.Sprintf("page-%d", page+1))
	}
	return out, nil
}

// fakeMetrics answers each query from bytes, keyed by stream name.
type fakeMetrics struct {
	bytes  map[string][]float64
	status map[string]cwtypes.StatusCode
	err    error
	calls  []*cloudwatch.GetMetricDataInput
}

func (f *fakeMetrics) GetMetricData(_ context.Context, in *cloudwatch.GetMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error) {
	f.calls = append(f.calls, in)
	if f.err != nil {
		return nil, f.err
	}

	out := &cloudwatch.GetMetricDataOutput{}
	for _, q := range in.MetricDataQueries {
		name := aws.ToString(q.MetricStat.Metric.Dimensions[0].Value)
		status := cwtypes.StatusCodeComplete
		if s, ok := f.status[name]; ok {
			status = s
		}
		out.MetricDataResults = append(out.MetricDataResults, cwtypes.MetricDataResult{
			Id:         q.Id,
			StatusCode: status,
			Values:     f.bytes[name],
			Messages:   []cwtypes.MessageData{{Code: aws.String("Err"), Value: aws.String("metric failure")}},
		})
	}
	return out, nil
}

func stream(name string, status kvtypes.Status) kvtypes.StreamInfo {
	return kvtypes.StreamInfo{StreamName: aws.String(name), Status: status}
}

func TestNew_RequiresClients(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, autoscaler.ErrInvalidConfig)

	r, err := New(Config{Streams: &fakeStreams{}, Metrics: &fakeMetrics{}})
	require.NoError(t, err)
	assert.Equal(t, DefaultLookback, r.lookback)
}

func TestListDesiredCameras(t *testing.T) {
	streams := &fakeStreams{pages: [][]kvtypes.StreamInfo{
		{stream("cam-b", kvtypes.StatusActive), stream("cam-idle", kvtypes.StatusActive)},
		{stream("cam-a", kvtypes.StatusActive), stream("cam-new", kvtypes.StatusCreating), stream("cam-gone", kvtypes.StatusDeleting)},
	}}
	metrics := &fakeMetrics{bytes: map[string][]float64{
		"cam-a":    {1024, 0},
		"cam-b":    {42},
		"cam-idle": {0, 2048},
		"cam-new":  {100},
	}}
	clock := quartz.NewMock(t)

	r, err := New(Config{Streams: streams, Metrics: metrics, Lookback: 2 * time.Minute, Clock: clock})
	require.NoError(t, err)

	got, err := r.ListDesiredCameras(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"cam-a", "cam-b"}, got)

	require.Len(t, streams.calls, 2)
	assert.Nil(t, streams.calls[0].StreamNameCondition)

	require.Len(t, metrics.calls, 1)
	in := metrics.calls[0]
	require.Len(t, in.MetricDataQueries, 3)
	assert.Equal(t, clock.Now().Add(-time.Minute), aws.ToTime(in.EndTime))
	assert.Equal(t, clock.Now().Add(-3*time.Minute), aws.ToTime(in.StartTime))

	q := in.MetricDataQueries[0]
	assert.Equal(t, "s0", aws.ToString(q.Id))
	assert.Equal(t, "AWS/KinesisVideo", aws.ToString(q.MetricStat.Metric.Namespace))
	assert.Equal(t, "PutMedia.IncomingBytes", aws.ToString(q.MetricStat.Metric.MetricName))
	assert.Equal(t, "Minimum", aws.ToString(q.MetricStat.Stat))
	assert.Equal(t, int32(60), aws.ToInt32(q.MetricStat.Period))
}

func TestListDesiredCameras_Prefix(t *testing.T) {
	streams := &fakeStreams{}
	r, err := New(Config{Streams: streams, Metrics: &fakeMetrics{}, StreamPrefix: "site1-"})
	require.NoError(t, err)

	got, err := r.ListDesiredCameras(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)

	require.Len(t, streams.calls, 1)
	cond := streams.calls[0].StreamNameCondition
	require.NotNil(t, cond)
	assert.Equal(t, kvtypes.ComparisonOperatorBeginsWith, cond.ComparisonOperator)
	assert.Equal(t, "site1-", aws.ToString(cond.ComparisonValue))
}

func TestListDesiredCameras_BatchesQueries(t *testing.T) {
	page := make([]kvtypes.StreamInfo, 0, 1203)
	bytes := make(map[string][]float64)
	for i := 0; i < 1203; i++ {
		name := fmt.Sprintf("cam-%04d", i)
		page = append(page, stream(name, kvtypes.StatusActive))
		if i%100 == 0 {
			bytes[name] = []float64{1}
		}
	}
	metrics := &fakeMetrics{bytes: bytes}

	r, err := New(Config{Streams: &fakeStreams{pages: [][]kvtypes.StreamInfo{page}}, Metrics: metrics})
	require.NoError(t, err)

	got, err := r.ListDesiredCameras(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 13)

	require.Len(t, metrics.calls, 3)
	assert.Len(t, metrics.calls[0].MetricDataQueries, 500)
	assert.Len(t, metrics.calls[1].MetricDataQueries, 500)
	assert.Len(t, metrics.calls[2].MetricDataQueries, 203)
}

func TestListDesiredCameras_MetricStatusFailsRead(t *testing.T) {
	for _, status := range []cwtypes.StatusCode{cwtypes.StatusCodeInternalError, cwtypes.StatusCodeForbidden} {
		t.Run(string(status), func(t *testing.T) {
			metrics := &fakeMetrics{
				bytes:  map[string][]float64{"cam-a": {1}},
				status: map[string]cwtypes.StatusCode{"cam-b": status},
			}
			r, err := New(Config{
				Streams: &fakeStreams{pages: [][]kvtypes.StreamInfo{{
					stream("cam-a", kvtypes.StatusActive),
					stream("cam-b", kvtypes.StatusActive),
				}}},
				Metrics: metrics,
			})
			require.NoError(t, err)

			got, err := r.ListDesiredCameras(context.Background())
			assert.ErrorIs(t, err, ErrMetricUnavailable)
			assert.ErrorContains(t, err, "metric failure")
			assert.Nil(t, got)
		})
	}
}

func TestListDesiredCameras_APIErrors(t *testing.T) {
	boom := errors.New("throttled")

	r, err := New(Config{Streams: &fakeStreams{err: boom}, Metrics: &fakeMetrics{}})
	require.NoError(t, err)
	_, err = r.ListDesiredCameras(context.Background())
	assert.ErrorIs(t, err, boom)

	r, err = New(Config{
		Streams: &fakeStreams{pages: [][]kvtypes.StreamInfo{{stream("cam-a", kvtypes.StatusActive)}}},
		Metrics: &fakeMetrics{err: boom},
	})
	require.NoError(t, err)
	_, err = r.ListDesiredCameras(context.Background())
	assert.ErrorIs(t, err, boom)
}
