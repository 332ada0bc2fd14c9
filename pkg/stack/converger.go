// Package stack drives CloudFormation stacks toward a desired template state.
package stack

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/crofton-cloud/sitectl/pkg/errors"
	"github.com/crofton-cloud/sitectl/pkg/retry"
)

// maxFailureReasons caps how many resource failures get surfaced from the
// stack event stream.
const maxFailureReasons = 5

// capabilities are granted on every create and update; the website template
// provisions IAM roles and uses transforms.
var capabilities = []cfntypes.Capability{
	cfntypes.CapabilityCapabilityNamedIam,
	cfntypes.CapabilityCapabilityAutoExpand,
}

// API is the subset of the CloudFormation client the converger uses.
type API interface {
	ValidateTemplate(ctx context.Context, params *cloudformation.ValidateTemplateInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ValidateTemplateOutput, error)
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	UpdateStack(ctx context.Context, params *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)
	DescribeStackEvents(ctx context.Context, params *cloudformation.DescribeStackEventsInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error)
}

// Outcome describes how a convergence run finished.
type Outcome string

const (
	OutcomeCreated   Outcome = "CREATED"
	OutcomeUpdated   Outcome = "UPDATED"
	OutcomeNoChanges Outcome = "NO_CHANGES"
	OutcomeValidated Outcome = "VALIDATED"
)

// Deployment is the state of a stack after a convergence run.
type Deployment struct {
	StackName string
	Outcome   Outcome
	// Status is the raw CloudFormation stack status, empty for validate-only runs.
	Status  string
	Outputs map[string]string
}

// Config bounds the stack settle wait.
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

// DefaultConfig returns the wait bounds used when none are configured.
func DefaultConfig() Config {
	return Config{
		PollInterval: 10 * time.Second,
		Timeout:      30 * time.Minute,
	}
}

// Input describes the desired stack state.
type Input struct {
	StackName    string
	TemplateBody string
	Parameters   map[string]string
	// ValidateOnly stops after template validation; nothing is created or
	// updated.
	ValidateOnly bool
}

// Converger creates or updates stacks and waits for them to settle.
type Converger struct {
	api API
	cfg Config
	log zerolog.Logger
}

// NewConverger creates a converger. Zero fields in cfg fall back to
// DefaultConfig values.
func NewConverger(api API, cfg Config, log zerolog.Logger) *Converger {
	defaults := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	return &Converger{
		api: api,
		cfg: cfg,
		log: log.With().Str("component", "stack").Logger(),
	}
}

// Converge drives the stack to the template state: it creates the stack when
// absent, updates it when present, and reports NO_CHANGES when the update is
// a no-op. A stack with another operation in flight is an error rather than
// a wait.
func (c *Converger) Converge(ctx context.Context, in Input) (Deployment, error) {
	if err := c.Validate(ctx, in.TemplateBody); err != nil {
		return Deployment{}, err
	}
	if in.ValidateOnly {
		return Deployment{StackName: in.StackName, Outcome: OutcomeValidated}, nil
	}

	current, exists, err := c.describe(ctx, in.StackName)
	if err != nil {
		return Deployment{}, err
	}

	params := toParameters(in.Parameters)
	if !exists {
		return c.create(ctx, in, params)
	}

	if status := string(current.StackStatus); strings.HasSuffix(status, "_IN_PROGRESS") {
		return Deployment{}, errors.StackBusy(in.StackName, status)
	}
	return c.update(ctx, in, params, current)
}

// Validate checks the template against the CloudFormation service without
// touching any stack.
func (c *Converger) Validate(ctx context.Context, templateBody string) error {
	_, err := c.api.ValidateTemplate(ctx, &cloudformation.ValidateTemplateInput{
		TemplateBody: aws.String(templateBody),
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeValidation, "template validation failed", err)
	}
	return nil
}

// Describe reports the stack's current status and outputs without mutating it.
func (c *Converger) Describe(ctx context.Context, stackName string) (Deployment, bool, error) {
	current, exists, err := c.describe(ctx, stackName)
	if err != nil || !exists {
		return Deployment{}, false, err
	}
	return Deployment{
		StackName: stackName,
		Status:    string(current.StackStatus),
		Outputs:   outputMap(current),
	}, true, nil
}

func (c *Converger) create(ctx context.Context, in Input, params []cfntypes.Parameter) (Deployment, error) {
	c.log.Info().Str("stack", in.StackName).Msg("creating stack")
	_, err := c.api.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:    aws.String(in.StackName),
		TemplateBody: aws.String(in.TemplateBody),
		Parameters:   params,
		Capabilities: capabilities,
	})
	if err != nil {
		return Deployment{}, errors.StackCreateFailed(in.StackName, "REQUEST_FAILED", err)
	}

	final, err := c.waitForSettle(ctx, in.StackName)
	if err != nil {
		return Deployment{}, err
	}
	if final.StackStatus != cfntypes.StackStatusCreateComplete {
		return Deployment{}, errors.StackCreateFailed(in.StackName, string(final.StackStatus), c.failureCause(ctx, in.StackName))
	}

	return Deployment{
		StackName: in.StackName,
		Outcome:   OutcomeCreated,
		Status:    string(final.StackStatus),
		Outputs:   outputMap(final),
	}, nil
}

func (c *Converger) update(ctx context.Context, in Input, params []cfntypes.Parameter, current *cfntypes.Stack) (Deployment, error) {
	c.log.Info().Str("stack", in.StackName).Msg("updating stack")
	_, err := c.api.UpdateStack(ctx, &cloudformation.UpdateStackInput{
		StackName:    aws.String(in.StackName),
		TemplateBody: aws.String(in.TemplateBody),
		Parameters:   params,
		Capabilities: capabilities,
	})
	if err != nil {
		if isNoUpdates(err) {
			c.log.Info().Str("stack", in.StackName).Msg("stack already matches template")
			return Deployment{
				StackName: in.StackName,
				Outcome:   OutcomeNoChanges,
				Status:    string(current.StackStatus),
				Outputs:   outputMap(current),
			}, nil
		}
		return Deployment{}, errors.StackUpdateFailed(in.StackName, "REQUEST_FAILED", err)
	}

	final, err := c.waitForSettle(ctx, in.StackName)
	if err != nil {
		return Deployment{}, err
	}
	if final.StackStatus != cfntypes.StackStatusUpdateComplete {
		return Deployment{}, errors.StackUpdateFailed(in.StackName, string(final.StackStatus), c.failureCause(ctx, in.StackName))
	}

	return Deployment{
		StackName: in.StackName,
		Outcome:   OutcomeUpdated,
		Status:    string(final.StackStatus),
		Outputs:   outputMap(final),
	}, nil
}

// waitForSettle polls the stack until its status leaves *_IN_PROGRESS.
func (c *Converger) waitForSettle(ctx context.Context, stackName string) (*cfntypes.Stack, error) {
	final, err := retry.Until(ctx, retry.Options{
		Interval: c.cfg.PollInterval,
		Timeout:  c.cfg.Timeout,
	}, func(ctx context.Context) (*cfntypes.Stack, bool, error) {
		current, exists, err := c.describe(ctx, stackName)
		if err != nil {
			return nil, false, err
		}
		if !exists {
			return nil, false, fmt.Errorf("stack %s disappeared while waiting for it to settle", stackName)
		}
		status := string(current.StackStatus)
		c.log.Debug().Str("stack", stackName).Str("status", status).Msg("waiting for stack to settle")
		return current, !strings.HasSuffix(status, "_IN_PROGRESS"), nil
	})
	if err == retry.ErrExhausted {
		return nil, errors.StackTimeout(stackName, c.cfg.Timeout)
	}
	return final, err
}

func (c *Converger) describe(ctx context.Context, stackName string) (*cfntypes.Stack, bool, error) {
	out, err := c.api.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to describe stack %s: %w", stackName, err)
	}
	if len(out.Stacks) == 0 {
		return nil, false, nil
	}
	return &out.Stacks[0], true, nil
}

// failureCause pulls the most recent resource failure reasons from the stack
// event stream. Returns nil when events cannot be fetched or hold no reasons.
func (c *Converger) failureCause(ctx context.Context, stackName string) error {
	out, err := c.api.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		return nil
	}

	// Events arrive newest first.
	var reasons []string
	for _, event := range out.StackEvents {
		status := string(event.ResourceStatus)
		if !strings.HasSuffix(status, "_FAILED") || event.ResourceStatusReason == nil {
			continue
		}
		reasons = append(reasons, fmt.Sprintf("%s: %s", aws.ToString(event.LogicalResourceId), aws.ToString(event.ResourceStatusReason)))
		if len(reasons) == maxFailureReasons {
			break
		}
	}
	if len(reasons) == 0 {
		return nil
	}
	return stderrors.New(strings.Join(reasons, "; "))
}

// CloudFormation reports both a missing stack and a no-op update as
// ValidationError; only the message tells them apart.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ValidationError" && strings.Contains(apiErr.ErrorMessage(), "does not exist")
	}
	return false
}

func isNoUpdates(err error) bool {
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ValidationError" && strings.Contains(apiErr.ErrorMessage(), "No updates are to be performed")
	}
	return false
}

func toParameters(values map[string]string) []cfntypes.Parameter {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	params := make([]cfntypes.Parameter, 0, len(keys))
	for _, k := range keys {
		params = append(params, cfntypes.Parameter{
			ParameterKey:   aws.String(k),
			ParameterValue: aws.String(values[k]),
		})
	}
	return params
}

func outputMap(s *cfntypes.Stack) map[string]string {
	outputs := make(map[string]string, len(s.Outputs))
	for _, o := range s.Outputs {
		outputs[aws.ToString(o.OutputKey)] = aws.ToString(o.OutputValue)
	}
	return outputs
}
