package deploy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/crofton-cloud/sitectl/pkg/errors"
)

// Template parameter names shared with the CloudFormation templates.
const (
	paramACMCertificateArn         = "ACMCertificateArn"
	paramBucketLogsLifeCycle       = "BucketLogsLifeCycle"
	paramBucketTransitionLifeCycle = "BucketTransitionLifeCycle"
	paramDomainName                = "DomainName"
	paramHostedZoneId              = "HostedZoneId"
	paramProjectPrefix             = "ProjectPrefix"
	paramSenderEmail               = "SenderEmail"
	paramRecipientEmail            = "RecipientEmail"
	paramAllowedOrigin             = "AllowedOrigin"
	paramLambdaMemorySize          = "LambdaMemorySize"
	paramLambdaTimeout             = "LambdaTimeout"
	paramKMSKeyId                  = "KMSKeyId"
	paramLambdaCodeBucket          = "LambdaCodeBucket"
	paramLambdaCodeKey             = "LambdaCodeKey"
)

// Stack output keys consumed by the publishing stage and the CLI.
const (
	OutputSiteBucket     = "SiteBucketName"
	OutputDistributionID = "DistributionId"
)

var (
	domainPattern = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}$`)
	prefixPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	emailPattern  = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// Request captures one deployment invocation. Build it once, validate it,
// then hand it to a Pipeline.
type Request struct {
	DomainName        string
	Prefix            string
	Region            string
	LogRetentionDays  int
	LogTransitionDays int
	// TemplatePath points at the website stack template.
	TemplatePath string
	// SiteDir holds the built site content; empty skips publishing.
	SiteDir string
	// ValidateOnly stops after template validation without creating or
	// changing any resource.
	ValidateOnly bool
	// ExtraParameters are forwarded to the website stack. Values may use the
	// secret:// scheme.
	ExtraParameters map[string]string
	// ContactForm enables the contact form backend stack.
	ContactForm *ContactFormRequest
}

// ContactFormRequest configures the contact form backend stack.
type ContactFormRequest struct {
	TemplatePath   string
	SenderEmail    string
	RecipientEmail string
	// AllowedOrigin defaults to https://<domain> when empty.
	AllowedOrigin  string
	MemorySize     int
	TimeoutSeconds int
	// CodeBucket and CodeKey point at a packaged function zip. When unset the
	// template deploys its inline handler.
	CodeBucket string
	CodeKey    string
}

// StackName returns the website stack name for this request.
func (r *Request) StackName() string {
	return r.Prefix + "-website-framework"
}

// ContactStackName returns the contact form stack name.
func (r *Request) ContactStackName() string {
	return r.Prefix + "-contact-form"
}

// ContactKeyAlias returns the KMS alias a previous contact form deployment
// would have left behind.
func (r *Request) ContactKeyAlias() string {
	return "alias/" + r.Prefix + "-contact-form"
}

// Normalize trims and lowercases the fields that feed DNS and S3 names.
func (r *Request) Normalize() {
	r.DomainName = strings.ToLower(strings.TrimSpace(r.DomainName))
	r.Prefix = strings.ToLower(strings.TrimSpace(r.Prefix))
}

// Validate checks the request before any provider call is made.
func (r *Request) Validate() error {
	var problems []string

	if r.DomainName == "" {
		problems = append(problems, "domain is required")
	} else if !domainPattern.MatchString(r.DomainName) {
		problems = append(problems, fmt.Sprintf("domain %q is not a valid DNS name", r.DomainName))
	}

	if r.Prefix == "" {
		problems = append(problems, "prefix is required")
	} else if !prefixPattern.MatchString(r.Prefix) || len(r.Prefix) > 32 {
		problems = append(problems, fmt.Sprintf("prefix %q must be lowercase alphanumeric (dashes allowed) and at most 32 characters", r.Prefix))
	}

	if r.LogRetentionDays <= 0 {
		problems = append(problems, "log retention days must be positive")
	}
	if r.LogTransitionDays <= 0 {
		problems = append(problems, "log transition days must be positive")
	}
	if r.LogRetentionDays > 0 && r.LogTransitionDays >= r.LogRetentionDays {
		problems = append(problems, "log transition must happen before retention expires")
	}

	if r.TemplatePath == "" {
		problems = append(problems, "template path is required")
	}

	if r.ContactForm != nil {
		if r.ContactForm.TemplatePath == "" {
			problems = append(problems, "contact form template path is required")
		}
		if !emailPattern.MatchString(r.ContactForm.SenderEmail) {
			problems = append(problems, fmt.Sprintf("sender email %q is not a valid address", r.ContactForm.SenderEmail))
		}
		if !emailPattern.MatchString(r.ContactForm.RecipientEmail) {
			problems = append(problems, fmt.Sprintf("recipient email %q is not a valid address", r.ContactForm.RecipientEmail))
		}
	}

	if len(problems) > 0 {
		return errors.ValidationError("invalid deployment request", map[string]interface{}{
			"problems": problems,
		})
	}
	return nil
}
