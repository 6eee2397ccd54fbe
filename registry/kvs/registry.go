// Package kvs derives the desired camera set from Kinesis Video Streams.
//
// A camera is desired when its stream is ACTIVE and a producer pushed media
// into it during the lookback window, as reported by the CloudWatch metric
// AWS/KinesisVideo PutMedia.IncomingBytes.
package kvs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideo"
	kvtypes "github.com/aws/aws-sdk-go-v2/service/kinesisvideo/types"
	"github.com/coder/quartz"

	"github.com/camwatch/frameparser-autoscaler"
	"github.com/camwatch/frameparser-autoscaler/registry"
)

const (
	metricNamespace = "AWS/KinesisVideo"
	metricName      = "PutMedia.IncomingBytes"
	metricPeriod    = 60

	// maxQueriesPerRequest is the GetMetricData limit on MetricDataQueries.
	maxQueriesPerRequest = 500
)

// Default values.
const (
	DefaultLookback = time.Minute
)

// ErrMetricUnavailable indicates CloudWatch could not produce activity data
// for at least one stream. The whole read fails so the tick changes nothing.
var ErrMetricUnavailable = errors.New("stream activity metric unavailable")

// StreamsAPI is the subset of the Kinesis Video client the registry uses.
type StreamsAPI interface {
	ListStreams(ctx context.Context, params *kinesisvideo.ListStreamsInput, optFns ...func(*kinesisvideo.Options)) (*kinesisvideo.ListStreamsOutput, error)
}

// MetricsAPI is the subset of the CloudWatch client the registry uses.
type MetricsAPI interface {
	GetMetricData(ctx context.Context, params *cloudwatch.GetMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error)
}

// Config configures a Registry.
type Config struct {
	Streams StreamsAPI
	Metrics MetricsAPI

	// StreamPrefix restricts the registry to streams whose name begins with it.
	StreamPrefix string

	// Lookback is the length of the activity window. The window ends one
	// minute before now because the latest datapoint is usually incomplete.
	// Defaults to DefaultLookback.
	Lookback time.Duration

	Clock quartz.Clock
}

// Registry is a StreamRegistry backed by Kinesis Video Streams and CloudWatch.
type Registry struct {
	streams  StreamsAPI
	metrics  MetricsAPI
	prefix   string
	lookback time.Duration
	clock    quartz.Clock
}

// Compile-time check that Registry implements StreamRegistry.
var _ registry.StreamRegistry = (*Registry)(nil)

// New creates a Registry.
func New(cfg Config) (*Registry, error) {
	if cfg.Streams == nil || cfg.Metrics == nil {
		return nil, fmt.Errorf("%w: kvs registry requires streams and metrics clients", autoscaler.ErrInvalidConfig)
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}

	return &Registry{
		streams:  cfg.Streams,
		metrics:  cfg.Metrics,
		prefix:   cfg.StreamPrefix,
		lookback: cfg.Lookback,
		clock:    cfg.Clock,
	}, nil
}

// ListDesiredCameras returns the names of active streams with producer
// traffic, sorted.
func (r *Registry) ListDesiredCameras(ctx context.Context) ([]string, error) {
	names, err := r.activeStreams(ctx)
	if err != nil {
		return nil, err
	}

	desired := []string{}
	for start := 0; start < len(names); start += maxQueriesPerRequest {
		end := min(start+maxQueriesPerRequest, len(names))

		active, err := r.producing(ctx, names[start:end])
		if err != nil {
			return nil, err
		}
		desired = append(desired, active...)
	}

	sort.Strings(desired)
	return desired, nil
}

func (r *Registry) activeStreams(ctx context.Context) ([]string, error) {
	in := &kinesisvideo.ListStreamsInput{}
	if r.prefix != "" {
		in.StreamNameCondition = &kvtypes.StreamNameCondition{
			ComparisonOperator: kvtypes.ComparisonOperatorBeginsWith,
			ComparisonValue:    aws.String(r.prefix),
		}
	}

	var names []string
	for {
		out, err := r.streams.ListStreams(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("failed to list streams: %w", err)
		}

		for _, s := range out.StreamInfoList {
			if s.Status == kvtypes.StatusActive && aws.ToString(s.StreamName) != "" {
				names = append(names, aws.ToString(s.StreamName))
			}
		}

		if aws.ToString(out.NextToken) == "" {
			return names, nil
		}
		in.NextToken = out.NextToken
	}
}

// producing returns the subset of names whose minimum incoming byte count in
// the window is positive. Query IDs are the stream's index in names.
func (r *Registry) producing(ctx context.Context, names []string) ([]string, error) {
	end := r.clock.Now().Add(-time.Minute)
	in := &cloudwatch.GetMetricDataInput{
		MetricDataQueries: make([]cwtypes.MetricDataQuery, len(names)),
		StartTime:         aws.Time(end.Add(-r.lookback)),
		EndTime:           aws.Time(end),
		ScanBy:            cwtypes.ScanByTimestampDescending,
	}
	for i, name := range names {
		in.MetricDataQueries[i] = cwtypes.MetricDataQuery{
			Id: aws.String(queryID(i)),
			MetricStat: &cwtypes.MetricStat{
				Metric: &cwtypes.Metric{
					Namespace:  aws.String(metricNamespace),
					MetricName: aws.String(metricName),
					Dimensions: []cwtypes.Dimension{
						{Name: aws.String("StreamName"), Value: aws.String(name)},
					},
				},
				Period: aws.Int32(metricPeriod),
				Stat:   aws.String("Minimum"),
				Unit:   cwtypes.StandardUnitBytes,
			},
			ReturnData: aws.Bool(true),
		}
	}

	latest := make(map[string]float64, len(names))
	for {
		out, err := r.metrics.GetMetricData(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("failed to get stream metrics: %w", err)
		}

		for _, res := range out.MetricDataResults {
			switch res.StatusCode {
			case cwtypes.StatusCodeInternalError, cwtypes.StatusCodeForbidden:
				return nil, fmt.Errorf("%w: query %s: %s%s", ErrMetricUnavailable,
					aws.ToString(res.Id), res.StatusCode, messages(res.Messages))
			}

			id := aws.ToString(res.Id)
			if _, seen := latest[id]; !seen && len(res.Values) > 0 {
				// Values are newest first.
				latest[id] = res.Values[0]
			}
		}

		if aws.ToString(out.NextToken) == "" {
			break
		}
		in.NextToken = out.NextToken
	}

	var active []string
	for i, name := range names {
		if latest[queryID(i)] > 0 {
			active = append(active, name)
		}
	}
	return active, nil
}

// queryID must start with a lowercase letter.
func queryID(i int) string {
	return "s" + strconv.Itoa(i)
}

func messages(msgs []cwtypes.MessageData) string {
	if len(msgs) == 0 {
		return ""
	}
	return ": " + aws.ToString(msgs[0].Value)
}
