package stack

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crofton-cloud/sitectl/pkg/errors"
)

type describeResult struct {
	stack *cfntypes.Stack
	err   error
}

// fakeCFN serves DescribeStacks responses from a queue; the last entry
// repeats once the queue drains.
type fakeCFN struct {
	describes []describeResult
	events    []cfntypes.StackEvent

	validateErr error
	updateErr   error

	validateCalls int
	describeCalls int
	createCalls   int
	updateCalls   int
	eventsCalls   int

	lastCreate *cloudformation.CreateStackInput
	lastUpdate *cloudformation.UpdateStackInput
}

func (f *fakeCFN) ValidateTemplate(ctx context.Context, params *cloudformation.ValidateTemplateInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ValidateTemplateOutput, error) {
	f.validateCalls++
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	return &cloudformation.ValidateTemplateOutput{}, nil
}

func (f *fakeCFN) DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	f.describeCalls++
	r := f.describes[0]
	if len(f.describes) > 1 {
		f.describes = f.describes[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	return &cloudformation.DescribeStacksOutput{Stacks: []cfntypes.Stack{*r.stack}}, nil
}

func (f *fakeCFN) CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
	f.createCalls++
	f.lastCreate = params
	return &cloudformation.CreateStackOutput{StackId: aws.String("stack-id")}, nil
}

func (f *fakeCFN) UpdateStack(ctx context.Context, params *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error) {
	f.updateCalls++
	f.lastUpdate = params
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &cloudformation.UpdateStackOutput{StackId: aws.String("stack-id")}, nil
}

func (f *fakeCFN) DescribeStackEvents(ctx context.Context, params *cloudformation.DescribeStackEventsInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error) {
	f.eventsCalls++
	return &cloudformation.DescribeStackEventsOutput{StackEvents: f.events}, nil
}

func notFound() describeResult {
	return describeResult{err: &smithy.GenericAPIError{
		Code:    "ValidationError",
		Message: "Stack with id demo-website-framework does not exist",
	}}
}

func noUpdatesErr() error {
	return &smithy.GenericAPIError{
		Code:    "ValidationError",
		Message: "No updates are to be performed.",
	}
}

func inStatus(status cfntypes.StackStatus, outputs map[string]string) describeResult {
	s := &cfntypes.Stack{
		StackName:   aws.String("demo-website-framework"),
		StackStatus: status,
	}
	for k, v := range outputs {
		s.Outputs = append(s.Outputs, cfntypes.Output{
			OutputKey:   aws.String(k),
			OutputValue: aws.String(v),
		})
	}
	return describeResult{stack: s}
}

func fastConverger(fake *fakeCFN) *Converger {
	return NewConverger(fake, Config{PollInterval: time.Millisecond, Timeout: time.Second}, zerolog.Nop())
}

func websiteInput() Input {
	return Input{
		StackName:    "demo-website-framework",
		TemplateBody: "AWSTemplateFormatVersion: '2010-09-09'",
		Parameters: map[string]string{
			"DomainName":    "example.org",
			"ProjectPrefix": "demo",
		},
	}
}

func TestConvergeCreatesMissingStack(t *testing.T) {
	fake := &fakeCFN{describes: []describeResult{
		notFound(),
		inStatus(cfntypes.StackStatusCreateInProgress, nil),
		inStatus(cfntypes.StackStatusCreateComplete, map[string]string{"SiteBucketName": "example.org"}),
	}}

	got, err := fastConverger(fake).Converge(context.Background(), websiteInput())

	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, got.Outcome)
	assert.Equal(t, "CREATE_COMPLETE", got.Status)
	assert.Equal(t, "example.org", got.Outputs["SiteBucketName"])

	require.Equal(t, 1, fake.createCalls)
	assert.Zero(t, fake.updateCalls)
	assert.Equal(t, 1, fake.validateCalls)

	assert.ElementsMatch(t, capabilities, fake.lastCreate.Capabilities)
	require.Len(t, fake.lastCreate.Parameters, 2)
	assert.Equal(t, "DomainName", aws.ToString(fake.lastCreate.Parameters[0].ParameterKey))
}

func TestConvergeUpdatesExistingStack(t *testing.T) {
	fake := &fakeCFN{describes: []describeResult{
		inStatus(cfntypes.StackStatusCreateComplete, nil),
		inStatus(cfntypes.StackStatusUpdateInProgress, nil),
		inStatus(cfntypes.StackStatusUpdateComplete, map[string]string{"DistributionId": "E123"}),
	}}

	got, err := fastConverger(fake).Converge(context.Background(), websiteInput())

	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, got.Outcome)
	assert.Equal(t, "E123", got.Outputs["DistributionId"])
	assert.Equal(t, 1, fake.updateCalls)
	assert.Zero(t, fake.createCalls)
}

func TestConvergeReportsNoChanges(t *testing.T) {
	fake := &fakeCFN{
		describes: []describeResult{
			inStatus(cfntypes.StackStatusUpdateComplete, map[string]string{"SiteBucketName": "example.org"}),
		},
		updateErr: noUpdatesErr(),
	}

	got, err := fastConverger(fake).Converge(context.Background(), websiteInput())

	require.NoError(t, err)
	assert.Equal(t, OutcomeNoChanges, got.Outcome)
	assert.Equal(t, "example.org", got.Outputs["SiteBucketName"], "no-op updates still surface current outputs")
	assert.Equal(t, 1, fake.updateCalls)
	assert.Equal(t, 1, fake.describeCalls, "no settle wait for a no-op update")
}

func TestConvergeValidateOnlyMutatesNothing(t *testing.T) {
	fake := &fakeCFN{}
	in := websiteInput()
	in.ValidateOnly = true

	got, err := fastConverger(fake).Converge(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, OutcomeValidated, got.Outcome)
	assert.Equal(t, 1, fake.validateCalls)
	assert.Zero(t, fake.describeCalls)
	assert.Zero(t, fake.createCalls)
	assert.Zero(t, fake.updateCalls)
}

func TestConvergeRejectsBusyStack(t *testing.T) {
	fake := &fakeCFN{describes: []describeResult{
		inStatus(cfntypes.StackStatusUpdateInProgress, nil),
	}}

	_, err := fastConverger(fake).Converge(context.Background(), websiteInput())

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeStackBusy))
	assert.Zero(t, fake.createCalls)
	assert.Zero(t, fake.updateCalls)
}

func TestConvergeCreateFailureSurfacesEvents(t *testing.T) {
	fake := &fakeCFN{
		describes: []describeResult{
			notFound(),
			inStatus(cfntypes.StackStatusRollbackComplete, nil),
		},
		events: []cfntypes.StackEvent{
			{
				LogicalResourceId:    aws.String("SiteBucket"),
				ResourceStatus:       cfntypes.ResourceStatusCreateFailed,
				ResourceStatusReason: aws.String("bucket name already exists"),
			},
		},
	}

	_, err := fastConverger(fake).Converge(context.Background(), websiteInput())

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeStackCreate))
	assert.Contains(t, err.Error(), "bucket name already exists")
	assert.Equal(t, 1, fake.eventsCalls)
}

func TestConvergeUpdateFailure(t *testing.T) {
	fake := &fakeCFN{describes: []describeResult{
		inStatus(cfntypes.StackStatusCreateComplete, nil),
		inStatus(cfntypes.StackStatusUpdateRollbackComplete, nil),
	}}

	_, err := fastConverger(fake).Converge(context.Background(), websiteInput())

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeStackUpdate))
}

func TestConvergeTimesOut(t *testing.T) {
	fake := &fakeCFN{describes: []describeResult{
		notFound(),
		inStatus(cfntypes.StackStatusCreateInProgress, nil),
	}}
	converger := NewConverger(fake, Config{PollInterval: 3 * time.Millisecond, Timeout: 10 * time.Millisecond}, zerolog.Nop())

	_, err := converger.Converge(context.Background(), websiteInput())

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeStackTimeout))
}

func TestConvergeValidationFailureStopsEarly(t *testing.T) {
	fake := &fakeCFN{validateErr: &smithy.GenericAPIError{
		Code:    "ValidationError",
		Message: "Template format error",
	}}

	_, err := fastConverger(fake).Converge(context.Background(), websiteInput())

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeValidation))
	assert.Zero(t, fake.describeCalls)
}

func TestDescribeMissingStack(t *testing.T) {
	fake := &fakeCFN{describes: []describeResult{notFound()}}

	_, exists, err := fastConverger(fake).Describe(context.Background(), "demo-website-framework")

	require.NoError(t, err)
	assert.False(t, exists)
}
