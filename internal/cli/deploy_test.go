package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewDeployCmd(t *testing.T) {
	cmd := newDeployCmd()

	if cmd.Use != "deploy" {
		t.Errorf("expected use 'deploy', got '%s'", cmd.Use)
	}

	expectedFlags := []string{
		"domain",
		"prefix",
		"template",
		"site-dir",
		"manifest",
		"bucket-logs-lifecycle",
		"bucket-transition-lifecycle",
		"var",
		"contact-form",
		"contact-template",
		"sender-email",
		"recipient-email",
		"allowed-origin",
		"lambda-code-bucket",
		"lambda-code-key",
		"validate",
		"auto-approve",
		"skip-publish",
		"cert-timeout",
		"stack-timeout",
	}

	for _, name := range expectedFlags {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("expected flag '%s' not found", name)
		}
	}
}

func TestNewDeployCmd_FlagDefaults(t *testing.T) {
	cmd := newDeployCmd()

	tests := []struct {
		flag     string
		expected string
	}{
		{"template", defaultWebsiteTemplate},
		{"contact-template", defaultContactTemplate},
		{"bucket-logs-lifecycle", "365"},
		{"bucket-transition-lifecycle", "30"},
		{"contact-form", "false"},
		{"auto-approve", "false"},
		{"cert-timeout", "30m0s"},
		{"stack-timeout", "30m0s"},
	}

	for _, tt := range tests {
		flag := cmd.Flags().Lookup(tt.flag)
		if flag == nil {
			t.Errorf("flag '%s' not found", tt.flag)
			continue
		}
		if flag.DefValue != tt.expected {
			t.Errorf("flag '%s': expected default '%s', got '%s'", tt.flag, tt.expected, flag.DefValue)
		}
	}
}

func TestBuildRequest_FlagsOnly(t *testing.T) {
	cmd := newDeployCmd()
	req, err := buildRequest(cmd.Flags(), requestInput{
		domain:              "example.com",
		prefix:              "folio",
		templateFile:        "templates/site.yaml",
		siteDir:             "public",
		manifestFile:        "",
		logsLifecycle:       180,
		transitionLifecycle: 14,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if req.DomainName != "example.com" {
		t.Errorf("expected domain 'example.com', got '%s'", req.DomainName)
	}
	if req.Prefix != "folio" {
		t.Errorf("expected prefix 'folio', got '%s'", req.Prefix)
	}
	if req.SiteDir != "public" {
		t.Errorf("expected site dir 'public', got '%s'", req.SiteDir)
	}
	if req.LogRetentionDays != 180 {
		t.Errorf("expected log retention 180, got %d", req.LogRetentionDays)
	}
	if req.ContactForm != nil {
		t.Error("expected no contact form request")
	}
}

func TestBuildRequest_SiteDirDefault(t *testing.T) {
	cmd := newDeployCmd()
	req, err := buildRequest(cmd.Flags(), requestInput{
		domain: "example.com",
		prefix: "folio",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.SiteDir != defaultSiteDir {
		t.Errorf("expected default site dir '%s', got '%s'", defaultSiteDir, req.SiteDir)
	}
}

func TestBuildRequest_VarParsing(t *testing.T) {
	cmd := newDeployCmd()
	req, err := buildRequest(cmd.Flags(), requestInput{
		domain:    "example.com",
		prefix:    "folio",
		variables: []string{"ApiEndpoint=https://api.example.com/contact", "Token=secret://site/token"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.ExtraParameters["ApiEndpoint"] != "https://api.example.com/contact" {
		t.Errorf("unexpected ApiEndpoint value: %s", req.ExtraParameters["ApiEndpoint"])
	}
	if req.ExtraParameters["Token"] != "secret://site/token" {
		t.Errorf("unexpected Token value: %s", req.ExtraParameters["Token"])
	}
}

func TestBuildRequest_InvalidVar(t *testing.T) {
	cmd := newDeployCmd()
	_, err := buildRequest(cmd.Flags(), requestInput{
		domain:    "example.com",
		prefix:    "folio",
		variables: []string{"NoEqualsSign"},
	})
	if err == nil {
		t.Fatal("expected error for malformed --var")
	}
	if !strings.Contains(err.Error(), "NoEqualsSign") {
		t.Errorf("error should mention the bad value, got: %v", err)
	}
}

func TestBuildRequest_ManifestMerge(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "site.hcl")
	content := `site {
  domain = "manifest.example.com"
  prefix = "mani"
  region = "eu-west-1"
  dir    = "build"

  logs {
    retention_days  = 90
    transition_days = 7
  }
}

parameter "ApiEndpoint" {
  value = "https://api.manifest.example.com/contact"
}
`
	if err := os.WriteFile(manifestPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cmd := newDeployCmd()
	req, err := buildRequest(cmd.Flags(), requestInput{
		manifestFile: manifestPath,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if req.DomainName != "manifest.example.com" {
		t.Errorf("expected manifest domain, got '%s'", req.DomainName)
	}
	if req.Prefix != "mani" {
		t.Errorf("expected manifest prefix, got '%s'", req.Prefix)
	}
	if req.Region != "eu-west-1" {
		t.Errorf("expected manifest region, got '%s'", req.Region)
	}
	if req.SiteDir != "build" {
		t.Errorf("expected manifest dir, got '%s'", req.SiteDir)
	}
	if req.LogRetentionDays != 90 {
		t.Errorf("expected manifest retention 90, got %d", req.LogRetentionDays)
	}
	if req.LogTransitionDays != 7 {
		t.Errorf("expected manifest transition 7, got %d", req.LogTransitionDays)
	}
	if req.ExtraParameters["ApiEndpoint"] != "https://api.manifest.example.com/contact" {
		t.Errorf("expected manifest parameter, got '%s'", req.ExtraParameters["ApiEndpoint"])
	}
}

func TestBuildRequest_FlagsOverrideManifest(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "site.hcl")
	content := `site {
  domain = "manifest.example.com"
  prefix = "mani"
  dir    = "build"
}
`
	if err := os.WriteFile(manifestPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cmd := newDeployCmd()
	req, err := buildRequest(cmd.Flags(), requestInput{
		domain:       "flags.example.com",
		siteDir:      "public",
		manifestFile: manifestPath,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if req.DomainName != "flags.example.com" {
		t.Errorf("flag domain should win, got '%s'", req.DomainName)
	}
	if req.Prefix != "mani" {
		t.Errorf("manifest prefix should fill the gap, got '%s'", req.Prefix)
	}
	if req.SiteDir != "public" {
		t.Errorf("flag site dir should win, got '%s'", req.SiteDir)
	}
}

func TestBuildRequest_ContactFormFromManifest(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "site.hcl")
	content := `site {
  domain = "example.com"
  prefix = "folio"
}

contact_form {
  sender_email    = "noreply@example.com"
  recipient_email = "owner@example.com"
  memory_size     = 256
  timeout_seconds = 15
}
`
	if err := os.WriteFile(manifestPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cmd := newDeployCmd()
	req, err := buildRequest(cmd.Flags(), requestInput{
		manifestFile:    manifestPath,
		contactTemplate: defaultContactTemplate,
		recipientEmail:  "override@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if req.ContactForm == nil {
		t.Fatal("expected contact form request from manifest")
	}
	if req.ContactForm.SenderEmail != "noreply@example.com" {
		t.Errorf("expected manifest sender, got '%s'", req.ContactForm.SenderEmail)
	}
	if req.ContactForm.RecipientEmail != "override@example.com" {
		t.Errorf("flag recipient should win, got '%s'", req.ContactForm.RecipientEmail)
	}
	if req.ContactForm.MemorySize != 256 {
		t.Errorf("expected memory size 256, got %d", req.ContactForm.MemorySize)
	}
	if req.ContactForm.TimeoutSeconds != 15 {
		t.Errorf("expected timeout 15, got %d", req.ContactForm.TimeoutSeconds)
	}
}

func TestBuildRequest_ContactFormFlagWithoutManifest(t *testing.T) {
	cmd := newDeployCmd()
	req, err := buildRequest(cmd.Flags(), requestInput{
		domain:          "example.com",
		prefix:          "folio",
		contactForm:     true,
		contactTemplate: defaultContactTemplate,
		senderEmail:     "noreply@example.com",
		recipientEmail:  "owner@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.ContactForm == nil {
		t.Fatal("expected contact form request")
	}
	if req.ContactForm.TemplatePath != defaultContactTemplate {
		t.Errorf("unexpected contact template: %s", req.ContactForm.TemplatePath)
	}
}

func TestBuildRequest_MissingManifestIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(cwd) }()

	cmd := newDeployCmd()
	req, err := buildRequest(cmd.Flags(), requestInput{
		domain: "example.com",
		prefix: "folio",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.DomainName != "example.com" {
		t.Errorf("expected flag domain, got '%s'", req.DomainName)
	}
}

func TestBuildRequest_ExplicitManifestMustExist(t *testing.T) {
	cmd := newDeployCmd()
	_, err := buildRequest(cmd.Flags(), requestInput{
		domain:       "example.com",
		prefix:       "folio",
		manifestFile: "/nonexistent/site.hcl",
	})
	if err == nil {
		t.Fatal("expected error for missing explicit manifest")
	}
}

func TestIsInteractive_CIEnvironment(t *testing.T) {
	t.Setenv("CI", "true")

	if isInteractive() {
		t.Error("expected non-interactive when CI is set")
	}
}
