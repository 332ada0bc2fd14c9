// Package manifest parses site.hcl, the declarative description of a site
// deployment. A manifest carries everything the deploy command would
// otherwise need as flags.
package manifest

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/crofton-cloud/sitectl/pkg/errors"
)

// Manifest is a parsed site.hcl.
type Manifest struct {
	Site        SiteBlock
	ContactForm *ContactFormBlock
	// Parameters holds extra template parameters from parameter blocks.
	// Values may use the secret:// scheme.
	Parameters map[string]string
}

// SiteBlock describes the website deployment itself.
type SiteBlock struct {
	Domain string
	Prefix string
	Region string
	Dir    string
	Logs   LogsBlock
}

// LogsBlock carries the bucket log lifecycle settings in days.
type LogsBlock struct {
	RetentionDays  int
	TransitionDays int
}

// ContactFormBlock enables the contact form backend stack.
type ContactFormBlock struct {
	SenderEmail    string
	RecipientEmail string
	AllowedOrigin  string
	MemorySize     int
	TimeoutSeconds int
	// CodeBucket/CodeKey select a packaged function zip over the inline
	// handler built into the template.
	CodeBucket string
	CodeKey    string
}

// Parser parses site manifests.
type Parser struct {
	parser *hclparse.Parser
}

// NewParser creates a manifest parser.
func NewParser() *Parser {
	return &Parser{parser: hclparse.NewParser()}
}

// Parse reads and parses the manifest at path.
func (p *Parser) Parse(path string) (*Manifest, hcl.Diagnostics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read file: %w", err)
	}
	return p.ParseBytes(data, path)
}

// ParseBytes parses a manifest from raw bytes. Attribute values may reference
// process environment variables as env.NAME.
func (p *Parser) ParseBytes(data []byte, filename string) (*Manifest, hcl.Diagnostics, error) {
	file, diags := p.parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, diags, fmt.Errorf("failed to parse HCL: %s", diags.Error())
	}

	bodySchema := &hcl.BodySchema{
		Blocks: []hcl.BlockHeaderSchema{
			{Type: "site"},
			{Type: "contact_form"},
			{Type: "parameter", LabelNames: []string{"name"}},
		},
	}

	content, moreDiags := file.Body.Content(bodySchema)
	diags = append(diags, moreDiags...)

	hclCtx := envContext()
	manifest := &Manifest{Parameters: map[string]string{}}

	siteBlocks := content.Blocks.OfType("site")
	if len(siteBlocks) == 0 {
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Missing site block",
			Detail:   "A manifest must declare exactly one site block.",
		})
	} else {
		site, blockDiags := parseSite(siteBlocks[0], hclCtx)
		diags = append(diags, blockDiags...)
		manifest.Site = site
	}

	for _, block := range content.Blocks.OfType("contact_form") {
		form, blockDiags := parseContactForm(block, hclCtx)
		diags = append(diags, blockDiags...)
		manifest.ContactForm = form
		break // Only one contact_form block allowed
	}

	for _, block := range content.Blocks.OfType("parameter") {
		name := block.Labels[0]
		value, blockDiags := parseParameter(block, hclCtx)
		diags = append(diags, blockDiags...)
		manifest.Parameters[name] = value
	}

	if diags.HasErrors() {
		return nil, diags, fmt.Errorf("failed to decode manifest: %s", diags.Error())
	}
	return manifest, diags, nil
}

func parseSite(block *hcl.Block, hclCtx *hcl.EvalContext) (SiteBlock, hcl.Diagnostics) {
	var diags hcl.Diagnostics

	siteSchema := &hcl.BodySchema{
		Attributes: []hcl.AttributeSchema{
			{Name: "domain", Required: true},
			{Name: "prefix", Required: true},
			{Name: "region"},
			{Name: "dir"},
		},
		Blocks: []hcl.BlockHeaderSchema{
			{Type: "logs"},
		},
	}

	content, moreDiags := block.Body.Content(siteSchema)
	diags = append(diags, moreDiags...)

	// Lifecycle defaults apply when the logs block is absent.
	site := SiteBlock{
		Logs: LogsBlock{RetentionDays: 365, TransitionDays: 30},
	}

	if attr, ok := content.Attributes["domain"]; ok {
		val, valDiags := attr.Expr.Value(hclCtx)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() {
			site.Domain = val.AsString()
		}
	}

	if attr, ok := content.Attributes["prefix"]; ok {
		val, valDiags := attr.Expr.Value(hclCtx)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() {
			site.Prefix = val.AsString()
		}
	}

	if attr, ok := content.Attributes["region"]; ok {
		val, valDiags := attr.Expr.Value(hclCtx)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() {
			site.Region = val.AsString()
		}
	}

	if attr, ok := content.Attributes["dir"]; ok {
		val, valDiags := attr.Expr.Value(hclCtx)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() {
			site.Dir = val.AsString()
		}
	}

	for _, logsBlock := range content.Blocks.OfType("logs") {
		logs, blockDiags := parseLogs(logsBlock, hclCtx)
		diags = append(diags, blockDiags...)
		site.Logs = logs
		break
	}

	return site, diags
}

func parseLogs(block *hcl.Block, hclCtx *hcl.EvalContext) (LogsBlock, hcl.Diagnostics) {
	var diags hcl.Diagnostics

	logsSchema := &hcl.BodySchema{
		Attributes: []hcl.AttributeSchema{
			{Name: "retention_days"},
			{Name: "transition_days"},
		},
	}

	content, moreDiags := block.Body.Content(logsSchema)
	diags = append(diags, moreDiags...)

	logs := LogsBlock{RetentionDays: 365, TransitionDays: 30}

	if attr, ok := content.Attributes["retention_days"]; ok {
		val, valDiags := attr.Expr.Value(hclCtx)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() {
			if err := gocty.FromCtyValue(val, &logs.RetentionDays); err != nil {
				diags = append(diags, numberDiag("retention_days", attr, err))
			}
		}
	}

	if attr, ok := content.Attributes["transition_days"]; ok {
		val, valDiags := attr.Expr.Value(hclCtx)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() {
			if err := gocty.FromCtyValue(val, &logs.TransitionDays); err != nil {
				diags = append(diags, numberDiag("transition_days", attr, err))
			}
		}
	}

	return logs, diags
}

func parseContactForm(block *hcl.Block, hclCtx *hcl.EvalContext) (*ContactFormBlock, hcl.Diagnostics) {
	var diags hcl.Diagnostics

	formSchema := &hcl.BodySchema{
		Attributes: []hcl.AttributeSchema{
			{Name: "sender_email", Required: true},
			{Name: "recipient_email", Required: true},
			{Name: "allowed_origin"},
			{Name: "memory_size"},
			{Name: "timeout_seconds"},
			{Name: "code_bucket"},
			{Name: "code_key"},
		},
	}

	content, moreDiags := block.Body.Content(formSchema)
	diags = append(diags, moreDiags...)

	form := &ContactFormBlock{}

	if attr, ok := content.Attributes["sender_email"]; ok {
		val, valDiags := attr.Expr.Value(hclCtx)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() {
			form.SenderEmail = val.AsString()
		}
	}

	if attr, ok := content.Attributes["recipient_email"]; ok {
		val, valDiags := attr.Expr.Value(hclCtx)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() {
			form.RecipientEmail = val.AsString()
		}
	}

	if attr, ok := content.Attributes["allowed_origin"]; ok {
		val, valDiags := attr.Expr.Value(hclCtx)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() {
			form.AllowedOrigin = val.AsString()
		}
	}

	if attr, ok := content.Attributes["memory_size"]; ok {
		val, valDiags := attr.Expr.Value(hclCtx)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() {
			if err := gocty.FromCtyValue(val, &form.MemorySize); err != nil {
				diags = append(diags, numberDiag("memory_size", attr, err))
			}
		}
	}

	if attr, ok := content.Attributes["timeout_seconds"]; ok {
		val, valDiags := attr.Expr.Value(hclCtx)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() {
			if err := gocty.FromCtyValue(val, &form.TimeoutSeconds); err != nil {
				diags = append(diags, numberDiag("timeout_seconds", attr, err))
			}
		}
	}

	if attr, ok := content.Attributes["code_bucket"]; ok {
		val, valDiags := attr.Expr.Value(hclCtx)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() {
			form.CodeBucket = val.AsString()
		}
	}

	if attr, ok := content.Attributes["code_key"]; ok {
		val, valDiags := attr.Expr.Value(hclCtx)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() {
			form.CodeKey = val.AsString()
		}
	}

	return form, diags
}

func parseParameter(block *hcl.Block, hclCtx *hcl.EvalContext) (string, hcl.Diagnostics) {
	var diags hcl.Diagnostics

	paramSchema := &hcl.BodySchema{
		Attributes: []hcl.AttributeSchema{
			{Name: "value", Required: true},
		},
	}

	content, moreDiags := block.Body.Content(paramSchema)
	diags = append(diags, moreDiags...)

	if attr, ok := content.Attributes["value"]; ok {
		val, valDiags := attr.Expr.Value(hclCtx)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() {
			return val.AsString(), diags
		}
	}
	return "", diags
}

func numberDiag(name string, attr *hcl.Attribute, err error) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  fmt.Sprintf("Invalid %s", name),
		Detail:   fmt.Sprintf("Attribute %s must be a number: %s.", name, err),
		Subject:  attr.Expr.Range().Ptr(),
	}
}

// envContext exposes the process environment to manifest expressions as
// env.NAME.
func envContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		vars[parts[0]] = cty.StringVal(parts[1])
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(vars),
		},
	}
}

// Validate checks the manifest carries everything a deployment needs.
func (m *Manifest) Validate() error {
	var problems []string
	if m.Site.Domain == "" {
		problems = append(problems, "site.domain is required")
	}
	if m.Site.Prefix == "" {
		problems = append(problems, "site.prefix is required")
	}
	if m.Site.Logs.RetentionDays <= 0 {
		problems = append(problems, "site.logs.retention_days must be positive")
	}
	if m.Site.Logs.TransitionDays <= 0 {
		problems = append(problems, "site.logs.transition_days must be positive")
	}
	if m.ContactForm != nil {
		if m.ContactForm.SenderEmail == "" {
			problems = append(problems, "contact_form.sender_email is required")
		}
		if m.ContactForm.RecipientEmail == "" {
			problems = append(problems, "contact_form.recipient_email is required")
		}
	}

	if len(problems) > 0 {
		return errors.ValidationError("invalid site manifest", map[string]interface{}{
			"problems": problems,
		})
	}
	return nil
}
