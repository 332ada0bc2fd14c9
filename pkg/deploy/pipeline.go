// Package deploy wires the deployment stages into one sequential run: hosted
// zone resolution, certificate provisioning, stack convergence, and content
// publishing.
package deploy

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/crofton-cloud/sitectl/pkg/cert"
	"github.com/crofton-cloud/sitectl/pkg/dns"
	"github.com/crofton-cloud/sitectl/pkg/errors"
	"github.com/crofton-cloud/sitectl/pkg/publish"
	"github.com/crofton-cloud/sitectl/pkg/stack"
	"github.com/crofton-cloud/sitectl/pkg/template"
)

// ZoneResolver finds the hosted zone serving a domain.
type ZoneResolver interface {
	Resolve(ctx context.Context, domain string) (dns.HostedZone, error)
}

// CertificateEnsurer guarantees an issued certificate for a domain.
type CertificateEnsurer interface {
	Ensure(ctx context.Context, domain string, zone dns.HostedZone) (cert.Certificate, error)
}

// StackConverger drives a stack to a template state.
type StackConverger interface {
	Converge(ctx context.Context, in stack.Input) (stack.Deployment, error)
}

// ContentPublisher pushes site content to its destination.
type ContentPublisher interface {
	Publish(ctx context.Context, assets []publish.Asset, dest publish.Destination) (publish.Report, error)
}

// ParameterResolver expands secret:// parameter values.
type ParameterResolver interface {
	Resolve(ctx context.Context, values map[string]string) (map[string]string, error)
}

// KeyLookup finds KMS keys by alias.
type KeyLookup interface {
	LookupKeyByAlias(ctx context.Context, alias string) (string, bool, error)
}

// Stage identifies one phase of a run.
type Stage string

const (
	StageZone        Stage = "dns"
	StageCertificate Stage = "certificate"
	StageStack       Stage = "stack"
	StageContactForm Stage = "contact-form"
	StagePublish     Stage = "publish"
)

// StageStatus is the lifecycle of a stage as seen by a progress display.
type StageStatus string

const (
	StageRunning  StageStatus = "running"
	StageComplete StageStatus = "complete"
	StageFailed   StageStatus = "failed"
	StageSkipped  StageStatus = "skipped"
)

// StageEvent notifies a listener of a stage transition.
type StageEvent struct {
	Stage  Stage
	Status StageStatus
	Detail string
}

// Pipeline runs the deployment stages in order. Each stage runs at most once
// per call to Run and a failed stage stops everything after it.
type Pipeline struct {
	Zones     ZoneResolver
	Certs     CertificateEnsurer
	Stacks    StackConverger
	Publisher ContentPublisher
	Params    ParameterResolver
	Keys      KeyLookup
	Log       zerolog.Logger
	// OnStage, when set, receives stage transitions for progress display.
	OnStage func(StageEvent)
}

// Result collects what each stage produced.
type Result struct {
	Zone        dns.HostedZone
	Certificate cert.Certificate
	Website     stack.Deployment
	ContactForm *stack.Deployment
	Publish     *publish.Report
}

// Run executes the deployment. On partial publish failure the returned
// Result still carries the publish report alongside the error.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	for k := range req.ExtraParameters {
		if isManagedParameter(k) {
			return nil, errors.ValidationError(fmt.Sprintf("parameter %s is managed by the deployment and cannot be overridden", k), nil)
		}
	}

	tpl, err := template.Load(req.TemplatePath)
	if err != nil {
		return nil, err
	}
	var contactTpl *template.Template
	if req.ContactForm != nil {
		if contactTpl, err = template.Load(req.ContactForm.TemplatePath); err != nil {
			return nil, err
		}
	}

	if req.ValidateOnly {
		return p.validateOnly(ctx, req, tpl, contactTpl)
	}

	result := &Result{}

	p.emit(StageZone, StageRunning, req.DomainName)
	zone, err := p.Zones.Resolve(ctx, req.DomainName)
	if err != nil {
		return nil, p.fail(StageZone, "hosted zone resolution", err)
	}
	result.Zone = zone
	p.emit(StageZone, StageComplete, zone.Name)

	p.emit(StageCertificate, StageRunning, req.DomainName)
	certificate, err := p.Certs.Ensure(ctx, req.DomainName, zone)
	if err != nil {
		return nil, p.fail(StageCertificate, "certificate provisioning", err)
	}
	result.Certificate = certificate
	p.emit(StageCertificate, StageComplete, certificate.ARN)

	websiteParams, err := p.websiteParameters(ctx, req, certificate.ARN, zone.ID, tpl)
	if err != nil {
		return nil, p.fail(StageStack, "stack convergence", err)
	}
	p.emit(StageStack, StageRunning, req.StackName())
	website, err := p.Stacks.Converge(ctx, stack.Input{
		StackName:    req.StackName(),
		TemplateBody: tpl.Body,
		Parameters:   websiteParams,
	})
	if err != nil {
		return nil, p.fail(StageStack, "stack convergence", err)
	}
	result.Website = website
	p.emit(StageStack, StageComplete, string(website.Outcome))

	if req.ContactForm != nil {
		contactParams, err := p.contactParameters(ctx, req, contactTpl)
		if err != nil {
			return nil, p.fail(StageContactForm, "contact form convergence", err)
		}
		p.emit(StageContactForm, StageRunning, req.ContactStackName())
		contact, err := p.Stacks.Converge(ctx, stack.Input{
			StackName:    req.ContactStackName(),
			TemplateBody: contactTpl.Body,
			Parameters:   contactParams,
		})
		if err != nil {
			return nil, p.fail(StageContactForm, "contact form convergence", err)
		}
		result.ContactForm = &contact
		p.emit(StageContactForm, StageComplete, string(contact.Outcome))
	}

	if req.SiteDir == "" {
		p.emit(StagePublish, StageSkipped, "no site directory")
		return result, nil
	}

	p.emit(StagePublish, StageRunning, req.SiteDir)
	assets, err := publish.ScanDir(req.SiteDir)
	if err != nil {
		return result, p.fail(StagePublish, "content publishing", err)
	}

	bucket := website.Outputs[OutputSiteBucket]
	if bucket == "" {
		// The website template names the content bucket after the domain.
		bucket = req.DomainName
	}
	report, err := p.Publisher.Publish(ctx, assets, publish.Destination{
		Bucket:         bucket,
		DistributionID: website.Outputs[OutputDistributionID],
	})
	result.Publish = &report
	if err != nil {
		return result, p.fail(StagePublish, "content publishing", err)
	}
	p.emit(StagePublish, StageComplete, fmt.Sprintf("%d uploaded, %d skipped", report.Uploaded, report.Skipped))

	return result, nil
}

// validateOnly checks the templates and the parameter wiring without touching
// any resource. Parameter completeness is checked against placeholder values
// for everything the real run resolves on the fly.
func (p *Pipeline) validateOnly(ctx context.Context, req Request, tpl, contactTpl *template.Template) (*Result, error) {
	result := &Result{}

	websiteParams := p.staticWebsiteParameters(req, "validate-only", "validate-only")
	if err := checkTemplateParams(tpl, websiteParams); err != nil {
		return nil, p.fail(StageStack, "stack validation", err)
	}

	p.emit(StageStack, StageRunning, req.StackName())
	website, err := p.Stacks.Converge(ctx, stack.Input{
		StackName:    req.StackName(),
		TemplateBody: tpl.Body,
		ValidateOnly: true,
	})
	if err != nil {
		return nil, p.fail(StageStack, "stack validation", err)
	}
	result.Website = website
	p.emit(StageStack, StageComplete, string(website.Outcome))

	if req.ContactForm != nil {
		contactParams := p.staticContactParameters(req)
		if err := checkTemplateParams(contactTpl, contactParams); err != nil {
			return nil, p.fail(StageContactForm, "contact form validation", err)
		}

		p.emit(StageContactForm, StageRunning, req.ContactStackName())
		contact, err := p.Stacks.Converge(ctx, stack.Input{
			StackName:    req.ContactStackName(),
			TemplateBody: contactTpl.Body,
			ValidateOnly: true,
		})
		if err != nil {
			return nil, p.fail(StageContactForm, "contact form validation", err)
		}
		result.ContactForm = &contact
		p.emit(StageContactForm, StageComplete, string(contact.Outcome))
	}

	return result, nil
}

// staticWebsiteParameters assembles the website stack parameters from values
// already known before any provider call.
func (p *Pipeline) staticWebsiteParameters(req Request, certARN, zoneID string) map[string]string {
	params := map[string]string{
		paramACMCertificateArn:         certARN,
		paramBucketLogsLifeCycle:       strconv.Itoa(req.LogRetentionDays),
		paramBucketTransitionLifeCycle: strconv.Itoa(req.LogTransitionDays),
		paramDomainName:                req.DomainName,
		paramHostedZoneId:              zoneID,
		paramProjectPrefix:             req.Prefix,
	}
	for k, v := range req.ExtraParameters {
		params[k] = v
	}
	return params
}

func (p *Pipeline) websiteParameters(ctx context.Context, req Request, certARN, zoneID string, tpl *template.Template) (map[string]string, error) {
	resolved, err := p.Params.Resolve(ctx, p.staticWebsiteParameters(req, certARN, zoneID))
	if err != nil {
		return nil, err
	}
	if err := checkTemplateParams(tpl, resolved); err != nil {
		return nil, err
	}
	return resolved, nil
}

// staticContactParameters assembles the contact stack parameters minus the
// KMS key lookup.
func (p *Pipeline) staticContactParameters(req Request) map[string]string {
	form := req.ContactForm

	origin := form.AllowedOrigin
	if origin == "" {
		origin = "https://" + req.DomainName
	}
	memory := form.MemorySize
	if memory <= 0 {
		memory = 128
	}
	timeout := form.TimeoutSeconds
	if timeout <= 0 {
		timeout = 10
	}

	params := map[string]string{
		paramProjectPrefix:    req.Prefix,
		paramDomainName:       req.DomainName,
		paramSenderEmail:      form.SenderEmail,
		paramRecipientEmail:   form.RecipientEmail,
		paramAllowedOrigin:    origin,
		paramLambdaMemorySize: strconv.Itoa(memory),
		paramLambdaTimeout:    strconv.Itoa(timeout),
	}
	if form.CodeBucket != "" {
		params[paramLambdaCodeBucket] = form.CodeBucket
		if form.CodeKey != "" {
			params[paramLambdaCodeKey] = form.CodeKey
		}
	}
	return params
}

func (p *Pipeline) contactParameters(ctx context.Context, req Request, contactTpl *template.Template) (map[string]string, error) {
	params := p.staticContactParameters(req)

	// Reuse the encryption key a previous deployment left behind; without it
	// the template mints a fresh one.
	keyID, found, err := p.Keys.LookupKeyByAlias(ctx, req.ContactKeyAlias())
	if err != nil {
		return nil, err
	}
	if found {
		params[paramKMSKeyId] = keyID
		p.Log.Debug().Str("alias", req.ContactKeyAlias()).Str("key", keyID).Msg("reusing contact form key")
	}

	resolved, err := p.Params.Resolve(ctx, params)
	if err != nil {
		return nil, err
	}
	if err := checkTemplateParams(contactTpl, resolved); err != nil {
		return nil, err
	}
	return resolved, nil
}

func checkTemplateParams(tpl *template.Template, provided map[string]string) error {
	if missing := tpl.MissingRequired(provided); len(missing) > 0 {
		return errors.ValidationError("template parameters missing values", map[string]interface{}{
			"missing": missing,
		})
	}
	if unknown := tpl.Unknown(provided); len(unknown) > 0 {
		return errors.ValidationError("parameters not declared by the template", map[string]interface{}{
			"unknown": unknown,
		})
	}
	return nil
}

func isManagedParameter(name string) bool {
	switch name {
	case paramACMCertificateArn, paramBucketLogsLifeCycle, paramBucketTransitionLifeCycle,
		paramDomainName, paramHostedZoneId, paramProjectPrefix:
		return true
	}
	return false
}

func (p *Pipeline) emit(stage Stage, status StageStatus, detail string) {
	if p.OnStage != nil {
		p.OnStage(StageEvent{Stage: stage, Status: status, Detail: detail})
	}
}

// fail emits the stage failure and wraps the error with the stage that
// produced it. Cancellation surfaces as a user abort instead.
func (p *Pipeline) fail(stage Stage, description string, err error) error {
	p.emit(stage, StageFailed, err.Error())
	p.Log.Error().Err(err).Str("stage", string(stage)).Msg("deployment stage failed")
	if stderrors.Is(err, context.Canceled) {
		return errors.UserAborted(description)
	}
	return fmt.Errorf("%s: %w", description, err)
}
