// Package cert provisions the TLS certificate for a deployment domain.
//
// Certificates are requested through ACM with DNS validation and cover the
// apex domain plus the www subdomain. An already issued certificate with the
// same coverage is reused instead of requesting a new one.
package cert

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	"github.com/aws/aws-sdk-go-v2/service/acm/types"
	"github.com/rs/zerolog"

	"github.com/crofton-cloud/sitectl/pkg/dns"
	"github.com/crofton-cloud/sitectl/pkg/errors"
	"github.com/crofton-cloud/sitectl/pkg/retry"
)

// validationRecordTTL is the TTL applied to ACM validation records.
const validationRecordTTL = 300

// API is the subset of the ACM client the provisioner uses.
type API interface {
	ListCertificates(ctx context.Context, params *acm.ListCertificatesInput, optFns ...func(*acm.Options)) (*acm.ListCertificatesOutput, error)
	RequestCertificate(ctx context.Context, params *acm.RequestCertificateInput, optFns ...func(*acm.Options)) (*acm.RequestCertificateOutput, error)
	DescribeCertificate(ctx context.Context, params *acm.DescribeCertificateInput, optFns ...func(*acm.Options)) (*acm.DescribeCertificateOutput, error)
}

// RecordWriter publishes DNS validation records. *dns.Resolver satisfies it.
type RecordWriter interface {
	Upsert(ctx context.Context, zone dns.HostedZone, records []dns.Record) error
}

// Config bounds the provisioner's polling loops.
type Config struct {
	// RecordPollInterval and RecordPollAttempts bound the wait for ACM to
	// attach DNS validation records to a fresh certificate.
	RecordPollInterval time.Duration
	RecordPollAttempts uint64
	// IssuePollInterval and IssueTimeout bound the wait for the certificate
	// to reach ISSUED once the validation records are published.
	IssuePollInterval time.Duration
	IssueTimeout      time.Duration
}

// DefaultConfig returns the polling bounds used when none are configured.
func DefaultConfig() Config {
	return Config{
		RecordPollInterval: 5 * time.Second,
		RecordPollAttempts: 60,
		IssuePollInterval:  15 * time.Second,
		IssueTimeout:       30 * time.Minute,
	}
}

// Certificate is the result of provisioning.
type Certificate struct {
	ARN    string
	Domain string
	Status string
	// Reused is true when an already issued certificate was found instead of
	// requesting a new one.
	Reused bool
}

// Provisioner requests and validates certificates.
type Provisioner struct {
	api     API
	records RecordWriter
	cfg     Config
	log     zerolog.Logger
}

// NewProvisioner creates a provisioner. Zero fields in cfg fall back to
// DefaultConfig values.
func NewProvisioner(api API, records RecordWriter, cfg Config, log zerolog.Logger) *Provisioner {
	defaults := DefaultConfig()
	if cfg.RecordPollInterval <= 0 {
		cfg.RecordPollInterval = defaults.RecordPollInterval
	}
	if cfg.RecordPollAttempts == 0 {
		cfg.RecordPollAttempts = defaults.RecordPollAttempts
	}
	if cfg.IssuePollInterval <= 0 {
		cfg.IssuePollInterval = defaults.IssuePollInterval
	}
	if cfg.IssueTimeout <= 0 {
		cfg.IssueTimeout = defaults.IssueTimeout
	}
	return &Provisioner{
		api:     api,
		records: records,
		cfg:     cfg,
		log:     log.With().Str("component", "cert").Logger(),
	}
}

// Ensure returns an issued certificate covering domain and www.domain,
// requesting and validating a new one if none exists. Running it twice for
// the same domain requests at most one certificate.
func (p *Provisioner) Ensure(ctx context.Context, domain string, zone dns.HostedZone) (Certificate, error) {
	wwwDomain := "www." + domain

	existing, err := p.findIssued(ctx, domain, wwwDomain)
	if err != nil {
		return Certificate{}, err
	}
	if existing != "" {
		p.log.Info().Str("arn", existing).Str("domain", domain).Msg("reusing issued certificate")
		return Certificate{
			ARN:    existing,
			Domain: domain,
			Status: string(types.CertificateStatusIssued),
			Reused: true,
		}, nil
	}

	requested, err := p.api.RequestCertificate(ctx, &acm.RequestCertificateInput{
		DomainName:              aws.String(domain),
		SubjectAlternativeNames: []string{wwwDomain},
		ValidationMethod:        types.ValidationMethodDns,
	})
	if err != nil {
		return Certificate{}, fmt.Errorf("failed to request certificate for %s: %w", domain, err)
	}
	arn := aws.ToString(requested.CertificateArn)
	p.log.Info().Str("arn", arn).Str("domain", domain).Msg("requested certificate")

	records, err := p.waitForValidationRecords(ctx, arn)
	if err != nil {
		return Certificate{}, err
	}

	if err := p.records.Upsert(ctx, zone, records); err != nil {
		return Certificate{}, err
	}
	p.log.Info().Int("records", len(records)).Str("zone", zone.Name).Msg("validation records in place")

	if err := p.waitForIssuance(ctx, arn); err != nil {
		return Certificate{}, err
	}
	p.log.Info().Str("arn", arn).Msg("certificate issued")

	return Certificate{
		ARN:    arn,
		Domain: domain,
		Status: string(types.CertificateStatusIssued),
	}, nil
}

// Lookup reports whether an issued certificate already covers domain and
// www.domain. It never requests a certificate.
func (p *Provisioner) Lookup(ctx context.Context, domain string) (Certificate, bool, error) {
	arn, err := p.findIssued(ctx, domain, "www."+domain)
	if err != nil {
		return Certificate{}, false, err
	}
	if arn == "" {
		return Certificate{}, false, nil
	}
	return Certificate{
		ARN:    arn,
		Domain: domain,
		Status: string(types.CertificateStatusIssued),
		Reused: true,
	}, true, nil
}

// findIssued looks for an issued certificate whose primary domain matches and
// whose alternative names cover the www subdomain.
func (p *Provisioner) findIssued(ctx context.Context, domain, wwwDomain string) (string, error) {
	paginator := acm.NewListCertificatesPaginator(p.api, &acm.ListCertificatesInput{
		CertificateStatuses: []types.CertificateStatus{types.CertificateStatusIssued},
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to list certificates: %w", err)
		}
		for _, summary := range page.CertificateSummaryList {
			if aws.ToString(summary.DomainName) != domain {
				continue
			}
			arn := aws.ToString(summary.CertificateArn)
			detail, err := p.describe(ctx, arn)
			if err != nil {
				return "", err
			}
			if containsName(detail.SubjectAlternativeNames, wwwDomain) {
				return arn, nil
			}
		}
	}
	return "", nil
}

func (p *Provisioner) waitForValidationRecords(ctx context.Context, arn string) ([]dns.Record, error) {
	records, err := retry.Until(ctx, retry.Options{
		Interval:    p.cfg.RecordPollInterval,
		MaxAttempts: p.cfg.RecordPollAttempts,
	}, func(ctx context.Context) ([]dns.Record, bool, error) {
		detail, err := p.describe(ctx, arn)
		if err != nil {
			return nil, false, err
		}
		records, ready := validationRecords(detail)
		return records, ready, nil
	})
	if err == retry.ErrExhausted {
		return nil, errors.ValidationRecordsUnavailable(arn, p.cfg.RecordPollAttempts)
	}
	return records, err
}

func (p *Provisioner) waitForIssuance(ctx context.Context, arn string) error {
	_, err := retry.Until(ctx, retry.Options{
		Interval: p.cfg.IssuePollInterval,
		Timeout:  p.cfg.IssueTimeout,
	}, func(ctx context.Context) (struct{}, bool, error) {
		detail, err := p.describe(ctx, arn)
		if err != nil {
			return struct{}{}, false, err
		}
		switch detail.Status {
		case types.CertificateStatusIssued:
			return struct{}{}, true, nil
		case types.CertificateStatusPendingValidation:
			return struct{}{}, false, nil
		default:
			reason := string(detail.FailureReason)
			if reason == "" {
				reason = string(detail.Status)
			}
			return struct{}{}, false, errors.CertificateFailed(arn, reason)
		}
	})
	if err == retry.ErrExhausted {
		return errors.CertificateTimeout(arn, p.cfg.IssueTimeout)
	}
	return err
}

func (p *Provisioner) describe(ctx context.Context, arn string) (*types.CertificateDetail, error) {
	out, err := p.api.DescribeCertificate(ctx, &acm.DescribeCertificateInput{
		CertificateArn: aws.String(arn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe certificate %s: %w", arn, err)
	}
	if out.Certificate == nil {
		return nil, fmt.Errorf("certificate %s has no detail", arn)
	}
	return out.Certificate, nil
}

// validationRecords extracts the DNS records ACM wants published. It reports
// ready only once every domain on the certificate has its record attached.
// Domains sharing a record (apex and wildcard) are deduplicated.
func validationRecords(detail *types.CertificateDetail) ([]dns.Record, bool) {
	if len(detail.DomainValidationOptions) == 0 {
		return nil, false
	}

	seen := make(map[string]bool)
	var records []dns.Record
	for _, opt := range detail.DomainValidationOptions {
		rr := opt.ResourceRecord
		if rr == nil {
			return nil, false
		}
		key := aws.ToString(rr.Name) + "|" + aws.ToString(rr.Value)
		if seen[key] {
			continue
		}
		seen[key] = true
		records = append(records, dns.Record{
			Name:  aws.ToString(rr.Name),
			Type:  string(rr.Type),
			Value: aws.ToString(rr.Value),
			TTL:   validationRecordTTL,
		})
	}
	return records, true
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
