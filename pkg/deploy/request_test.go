package deploy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crofton-cloud/sitectl/pkg/errors"
)

func validRequest() Request {
	return Request{
		DomainName:        "example.com",
		Prefix:            "folio",
		LogRetentionDays:  365,
		LogTransitionDays: 30,
		TemplatePath:      "templates/cfn-website-framework.yaml",
	}
}

func TestRequestNormalize(t *testing.T) {
	req := Request{
		DomainName: "  Example.COM ",
		Prefix:     " Folio ",
	}
	req.Normalize()

	assert.Equal(t, "example.com", req.DomainName)
	assert.Equal(t, "folio", req.Prefix)
}

func TestRequestValidate(t *testing.T) {
	req := validRequest()
	require.NoError(t, req.Validate())

	req.ContactForm = &ContactFormRequest{
		TemplatePath:   "templates/cfn-contact-form.yaml",
		SenderEmail:    "noreply@example.com",
		RecipientEmail: "owner@example.com",
	}
	require.NoError(t, req.Validate())
}

func TestRequestValidateProblems(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Request)
		problem string
	}{
		{
			name:    "missing domain",
			mutate:  func(r *Request) { r.DomainName = "" },
			problem: "domain is required",
		},
		{
			name:    "bare label domain",
			mutate:  func(r *Request) { r.DomainName = "localhost" },
			problem: "not a valid DNS name",
		},
		{
			name:    "domain with scheme",
			mutate:  func(r *Request) { r.DomainName = "https://example.com" },
			problem: "not a valid DNS name",
		},
		{
			name:    "missing prefix",
			mutate:  func(r *Request) { r.Prefix = "" },
			problem: "prefix is required",
		},
		{
			name:    "prefix with underscore",
			mutate:  func(r *Request) { r.Prefix = "my_site" },
			problem: "lowercase alphanumeric",
		},
		{
			name:    "prefix too long",
			mutate:  func(r *Request) { r.Prefix = strings.Repeat("a", 33) },
			problem: "at most 32 characters",
		},
		{
			name:    "zero retention",
			mutate:  func(r *Request) { r.LogRetentionDays = 0 },
			problem: "retention days must be positive",
		},
		{
			name:    "transition after retention",
			mutate:  func(r *Request) { r.LogTransitionDays = 400 },
			problem: "before retention expires",
		},
		{
			name:    "missing template",
			mutate:  func(r *Request) { r.TemplatePath = "" },
			problem: "template path is required",
		},
		{
			name: "contact form without sender",
			mutate: func(r *Request) {
				r.ContactForm = &ContactFormRequest{
					TemplatePath:   "templates/cfn-contact-form.yaml",
					RecipientEmail: "owner@example.com",
				}
			},
			problem: "sender email",
		},
		{
			name: "contact form bad recipient",
			mutate: func(r *Request) {
				r.ContactForm = &ContactFormRequest{
					TemplatePath:   "templates/cfn-contact-form.yaml",
					SenderEmail:    "noreply@example.com",
					RecipientEmail: "not-an-address",
				}
			},
			problem: "recipient email",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			err := req.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeValidation))

			var appErr *errors.Error
			require.ErrorAs(t, err, &appErr)
			problems, ok := appErr.Details["problems"].([]string)
			require.True(t, ok)
			found := false
			for _, p := range problems {
				if strings.Contains(p, tt.problem) {
					found = true
				}
			}
			assert.True(t, found, "expected problem %q in %v", tt.problem, problems)
		})
	}
}

func TestRequestDerivedNames(t *testing.T) {
	req := validRequest()

	assert.Equal(t, "folio-website-framework", req.StackName())
	assert.Equal(t, "folio-contact-form", req.ContactStackName())
	assert.Equal(t, "alias/folio-contact-form", req.ContactKeyAlias())
}
