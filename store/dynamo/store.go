// Package dynamo implements the AssignmentStore on a DynamoDB table keyed by
// the string partition key "cameraId".
//
// Writes are conditional: Create requires the key to be absent and Update and
// Delete require the stored "version" to match. A failed condition surfaces as
// store.ErrVersionConflict.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/camwatch/frameparser-autoscaler"
	"github.com/camwatch/frameparser-autoscaler/store"
)

const (
	keyAttr     = "cameraId"
	versionAttr = "version"

	condAbsent  = "attribute_not_exists(cameraId)"
	condVersion = "#v = :expected"
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store is a DynamoDB implementation of AssignmentStore.
type Store struct {
	client API
	table  string
}

// Compile-time check that Store implements AssignmentStore.
var _ store.AssignmentStore = (*Store)(nil)

// New creates a Store over the given table.
func New(client API, table string) *Store {
	return &Store{client: client, table: table}
}

// item is the stored attribute layout.
type item struct {
	CameraID         string     `dynamodbav:"cameraId"`
	WorkerHandle     string     `dynamodbav:"workerHandle,omitempty"`
	State            string     `dynamodbav:"state"`
	LastReconciledAt time.Time  `dynamodbav:"lastReconciledAt"`
	FailureCount     int        `dynamodbav:"failureCount"`
	Version          int64      `dynamodbav:"version"`
	LaunchStartedAt  *time.Time `dynamodbav:"launchStartedAt,omitempty"`
	FailedAt         *time.Time `dynamodbav:"failedAt,omitempty"`
	LastError        string     `dynamodbav:"lastError,omitempty"`
	DivergedSince    *time.Time `dynamodbav:"divergedSince,omitempty"`
}

// List scans the whole table and returns assignments sorted by camera ID.
func (s *Store) List(ctx context.Context) ([]autoscaler.Assignment, error) {
	out := []autoscaler.Assignment{}

	p := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:      aws.String(s.table),
		ConsistentRead: aws.Bool(true),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignments: %w", err)
		}

		var items []item
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to decode assignments: %w", err)
		}
		for _, it := range items {
			out = append(out, it.assignment())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CameraID < out[j].CameraID
	})

	return out, nil
}

// Get returns the assignment for a camera.
func (s *Store) Get(ctx context.Context, cameraID string) (autoscaler.Assignment, error) {
	res, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            key(cameraID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return autoscaler.Assignment{}, fmt.Errorf("failed to get assignment: %w", err)
	}
	if len(res.Item) == 0 {
		return autoscaler.Assignment{}, store.ErrAssignmentNotFound
	}

	var it item
	if err := attributevalue.UnmarshalMap(res.Item, &it); err != nil {
		return autoscaler.Assignment{}, fmt.Errorf("failed to decode assignment: %w", err)
	}
	return it.assignment(), nil
}

// Create inserts a with version 1 unless the camera already has a record.
func (s *Store) Create(ctx context.Context, a autoscaler.Assignment) (autoscaler.Assignment, error) {
	a.Version = 1
	av, err := attributevalue.MarshalMap(newItem(a))
	if err != nil {
		return autoscaler.Assignment{}, fmt.Errorf("failed to encode assignment: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                av,
		ConditionExpression: aws.String(condAbsent),
	})
	if err != nil {
		return autoscaler.Assignment{}, mapError("create", err)
	}

	return a, nil
}

// Update replaces the record if the stored version equals a.Version.
func (s *Store) Update(ctx context.Context, a autoscaler.Assignment) (autoscaler.Assignment, error) {
	expected := a.Version
	a.Version++
	av, err := attributevalue.MarshalMap(newItem(a))
	if err != nil {
		return autoscaler.Assignment{}, fmt.Errorf("failed to encode assignment: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.table),
		Item:                      av,
		ConditionExpression:       aws.String(condVersion),
		ExpressionAttributeNames:  map[string]string{"#v": versionAttr},
		ExpressionAttributeValues: expectedVersion(expected),
	})
	if err != nil {
		return autoscaler.Assignment{}, mapError("update", err)
	}

	return a, nil
}

// Delete removes the record if the stored version equals version.
func (s *Store) Delete(ctx context.Context, cameraID string, version int64) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(s.table),
		Key:                       key(cameraID),
		ConditionExpression:       aws.String(condVersion),
		ExpressionAttributeNames:  map[string]string{"#v": versionAttr},
		ExpressionAttributeValues: expectedVersion(version),
	})
	return mapError("delete", err)
}

func key(cameraID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		keyAttr: &types.AttributeValueMemberS{Value: cameraID},
	}
}

func expectedVersion(v int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)},
	}
}

func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return store.ErrVersionConflict
	}
	return fmt.Errorf("failed to %s assignment: %w", op, err)
}

func newItem(a autoscaler.Assignment) item {
	return item{
		CameraID:         a.CameraID,
		WorkerHandle:     a.WorkerHandle,
		State:            string(a.State),
		LastReconciledAt: a.LastReconciledAt.UTC(),
		FailureCount:     a.FailureCount,
		Version:          a.Version,
		LaunchStartedAt:  optional(a.LaunchStartedAt),
		FailedAt:         optional(a.FailedAt),
		LastError:        a.LastError,
		DivergedSince:    optional(a.DivergedSince),
	}
}

func (it item) assignment() autoscaler.Assignment {
	return autoscaler.Assignment{
		CameraID:         it.CameraID,
		WorkerHandle:     it.WorkerHandle,
		State:            autoscaler.AssignmentState(it.State),
		LastReconciledAt: it.LastReconciledAt,
		FailureCount:     it.FailureCount,
		Version:          it.Version,
		LaunchStartedAt:  deref(it.LaunchStartedAt),
		FailedAt:         deref(it.FailedAt),
		LastError:        it.LastError,
		DivergedSince:    deref(it.DivergedSince),
	}
}

func optional(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
