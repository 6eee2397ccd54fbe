// Package fargate runs frame parser workers as ECS tasks on Fargate.
//
// A worker handle is the task ARN. Start issues RunTask with the camera
// passed through container environment overrides, Stop issues StopTask and
// IsAlive inspects DescribeTasks.
package fargate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/smithy-go"

	"github.com/camwatch/frameparser-autoscaler"
	"github.com/camwatch/frameparser-autoscaler/launcher"
)

// Container environment variables consumed by the frame parser.
const (
	EnvCameraName   = "CAMERA_NAME"
	EnvOutputBucket = "S3_BUCKET_NAME"
	EnvProcessRate  = "PROCESS_RATE_IN_FPS"
	EnvRegion       = "AWS_DEFAULT_REGION"
)

// StopReason is attached to every StopTask call.
const StopReason = "AutoScaling Scale In"

// maxStartedBy is the ECS limit on the startedBy field.
const maxStartedBy = 36

// API is the subset of the ECS client the launcher uses.
type API interface {
	RunTask(ctx context.Context, params *ecs.RunTaskInput, optFns ...func(*ecs.Options)) (*ecs.RunTaskOutput, error)
	StopTask(ctx context.Context, params *ecs.StopTaskInput, optFns ...func(*ecs.Options)) (*ecs.StopTaskOutput, error)
	DescribeTasks(ctx context.Context, params *ecs.DescribeTasksInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error)
}

// Config configures a Launcher.
type Config struct {
	Client API

	// Cluster is the ECS cluster name or ARN.
	Cluster string

	// TaskDefinition is the family, family:revision or ARN of the worker task.
	TaskDefinition string

	// ContainerName is the container that receives the environment overrides.
	// Defaults to "frame-parser".
	ContainerName string

	Subnets        []string
	SecurityGroups []string

	// AssignPublicIP gives tasks a public address, needed in subnets without NAT.
	AssignPublicIP bool
}

// DefaultContainerName is used when Config.ContainerName is empty.
const DefaultContainerName = "frame-parser"

// Launcher is an ECS Fargate implementation of launcher.Launcher.
type Launcher struct {
	cfg Config
}

// Compile-time check that Launcher implements launcher.Launcher.
var _ launcher.Launcher = (*Launcher)(nil)

// New creates a Launcher.
func New(cfg Config) (*Launcher, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("%w: fargate launcher requires an ECS client", autoscaler.ErrInvalidConfig)
	}
	if cfg.Cluster == "" {
		return nil, fmt.Errorf("%w: fargate launcher requires a cluster", autoscaler.ErrInvalidConfig)
	}
	if cfg.TaskDefinition == "" {
		return nil, fmt.Errorf("%w: fargate launcher requires a task definition", autoscaler.ErrInvalidConfig)
	}
	if len(cfg.Subnets) == 0 {
		return nil, fmt.Errorf("%w: fargate launcher requires at least one subnet", autoscaler.ErrInvalidConfig)
	}
	if cfg.ContainerName == "" {
		cfg.ContainerName = DefaultContainerName
	}

	return &Launcher{cfg: cfg}, nil
}

// Start runs one task for the camera and returns its ARN.
func (l *Launcher) Start(ctx context.Context, req autoscaler.LaunchRequest) (string, error) {
	assignIP := types.AssignPublicIpDisabled
	if l.cfg.AssignPublicIP {
		assignIP = types.AssignPublicIpEnabled
	}

	in := &ecs.RunTaskInput{
		Cluster:        aws.String(l.cfg.Cluster),
		TaskDefinition: aws.String(l.cfg.TaskDefinition),
		LaunchType:     types.LaunchTypeFargate,
		Count:          aws.Int32(1),
		NetworkConfiguration: &types.NetworkConfiguration{
			AwsvpcConfiguration: &types.AwsVpcConfiguration{
				Subnets:        l.cfg.Subnets,
				SecurityGroups: l.cfg.SecurityGroups,
				AssignPublicIp: assignIP,
			},
		},
		Overrides: &types.TaskOverride{
			ContainerOverrides: []types.ContainerOverride{{
				Name:        aws.String(l.cfg.ContainerName),
				Environment: environment(req),
			}},
		},
		StartedBy: aws.String(truncate(req.CameraID, maxStartedBy)),
	}
	if req.Token != "" {
		in.ClientToken = aws.String(req.Token)
	}

	out, err := l.cfg.Client.RunTask(ctx, in)
	if err != nil {
		return "", classify("run task", err)
	}

	if len(out.Failures) > 0 {
		f := out.Failures[0]
		return "", fmt.Errorf("%w: %s: %s", launcher.ErrLaunchRejected,
			aws.ToString(f.Reason), aws.ToString(f.Detail))
	}
	if len(out.Tasks) == 0 || aws.ToString(out.Tasks[0].TaskArn) == "" {
		return "", fmt.Errorf("%w: run task returned no task", launcher.ErrLaunchRejected)
	}

	return aws.ToString(out.Tasks[0].TaskArn), nil
}

// Stop stops the task. A task that is already gone counts as stopped.
func (l *Launcher) Stop(ctx context.Context, handle string) error {
	_, err := l.cfg.Client.StopTask(ctx, &ecs.StopTaskInput{
		Cluster: aws.String(l.cfg.Cluster),
		Task:    aws.String(handle),
		Reason:  aws.String(StopReason),
	})
	if err == nil || taskNotFound(err) {
		return nil
	}
	return classify("stop task", err)
}

// IsAlive reports whether the task has not stopped.
func (l *Launcher) IsAlive(ctx context.Context, handle string) (bool, error) {
	out, err := l.cfg.Client.DescribeTasks(ctx, &ecs.DescribeTasksInput{
		Cluster: aws.String(l.cfg.Cluster),
		Tasks:   []string{handle},
	})
	if err != nil {
		return false, classify("describe task", err)
	}

	for _, f := range out.Failures {
		if aws.ToString(f.Reason) == "MISSING" {
			return false, nil
		}
		return false, fmt.Errorf("%w: describe task: %s", launcher.ErrTransient, aws.ToString(f.Reason))
	}

	if len(out.Tasks) > 0 {
		t := out.Tasks[0]
		stopped := aws.ToString(t.LastStatus) == "STOPPED" || aws.ToString(t.DesiredStatus) == "STOPPED"
		return !stopped, nil
	}

	return false, fmt.Errorf("%w: describe task returned neither task nor failure", launcher.ErrTransient)
}

func environment(req autoscaler.LaunchRequest) []types.KeyValuePair {
	env := []types.KeyValuePair{
		{Name: aws.String(EnvCameraName), Value: aws.String(req.CameraID)},
		{Name: aws.String(EnvOutputBucket), Value: aws.String(req.Config.OutputBucket)},
		{Name: aws.String(EnvProcessRate), Value: aws.String(strconv.Itoa(req.Config.ProcessRateFPS))},
	}
	if req.Config.Region != "" {
		env = append(env, types.KeyValuePair{Name: aws.String(EnvRegion), Value: aws.String(req.Config.Region)})
	}

	keys := make([]string, 0, len(req.Config.Extra))
	for k := range req.Config.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, types.KeyValuePair{Name: aws.String(k), Value: aws.String(req.Config.Extra[k])})
	}

	return env
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// taskNotFound matches the InvalidParameterException ECS returns for a task
// that no longer exists.
func taskNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "InvalidParameterException" &&
		strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "not found")
}

var transientCodes = map[string]bool{
	"ThrottlingException":         true,
	"RequestLimitExceeded":        true,
	"ServerException":             true,
	"ServiceUnavailableException": true,
}

// classify marks throttling and server-side faults as launcher.ErrTransient.
func classify(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if transientCodes[apiErr.ErrorCode()] || apiErr.ErrorFault() == smithy.FaultServer {
			return fmt.Errorf("%w: failed to %s: %w", launcher.ErrTransient, op, err)
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
