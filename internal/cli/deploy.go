package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/crofton-cloud/sitectl/pkg/awsconfig"
	"github.com/crofton-cloud/sitectl/pkg/cert"
	"github.com/crofton-cloud/sitectl/pkg/deploy"
	"github.com/crofton-cloud/sitectl/pkg/dns"
	"github.com/crofton-cloud/sitectl/pkg/manifest"
	"github.com/crofton-cloud/sitectl/pkg/params"
	"github.com/crofton-cloud/sitectl/pkg/publish"
	"github.com/crofton-cloud/sitectl/pkg/revision"
	"github.com/crofton-cloud/sitectl/pkg/stack"
)

const (
	defaultManifestFile    = "site.hcl"
	defaultSiteDir         = "dist"
	defaultWebsiteTemplate = "templates/cfn-website-framework.yaml"
	defaultContactTemplate = "templates/cfn-contact-form.yaml"
)

func newDeployCmd() *cobra.Command {
	var (
		domain              string
		prefix              string
		templateFile        string
		siteDir             string
		manifestFile        string
		logsLifecycle       int
		transitionLifecycle int
		variables           []string
		contactForm         bool
		contactTemplate     string
		senderEmail         string
		recipientEmail      string
		allowedOrigin       string
		lambdaCodeBucket    string
		lambdaCodeKey       string
		validateOnly        bool
		autoApprove         bool
		skipPublish         bool
		certTimeout         time.Duration
		stackTimeout        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Provision the site infrastructure and publish content",
		Long: `Deploy runs the full site pipeline:

  1. Resolves the Route53 hosted zone serving the domain
  2. Ensures a DNS-validated ACM certificate for the apex and www names
  3. Converges the website CloudFormation stack (and the contact form
     stack when enabled)
  4. Uploads the site content to S3 and invalidates the CloudFront cache

Settings come from flags or from a site.hcl manifest in the working
directory; flags take precedence. Re-running an unchanged deployment is
safe: the certificate is reused, the stack reports no changes, and only
modified files are re-uploaded.

Examples:
  sitectl deploy --domain example.com --prefix folio
  sitectl deploy -f site.hcl --auto-approve
  sitectl deploy --domain example.com --prefix folio --validate
  sitectl deploy --domain example.com --prefix folio --var ApiEndpoint=https://api.example.com/contact`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildRequest(cmd.Flags(), requestInput{
				domain:              domain,
				prefix:              prefix,
				templateFile:        templateFile,
				siteDir:             siteDir,
				manifestFile:        manifestFile,
				logsLifecycle:       logsLifecycle,
				transitionLifecycle: transitionLifecycle,
				variables:           variables,
				contactForm:         contactForm,
				contactTemplate:     contactTemplate,
				senderEmail:         senderEmail,
				recipientEmail:      recipientEmail,
				allowedOrigin:       allowedOrigin,
				lambdaCodeBucket:    lambdaCodeBucket,
				lambdaCodeKey:       lambdaCodeKey,
			})
			if err != nil {
				return err
			}
			req.ValidateOnly = validateOnly
			if skipPublish {
				req.SiteDir = ""
			}
			req.Normalize()
			if err := req.Validate(); err != nil {
				return formatValidationError(err)
			}

			log := newLogger()

			// Create cancellable context that responds to Ctrl+C
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)
			var cancelCount int
			go func() {
				for range sigChan {
					cancelCount++
					if cancelCount == 1 {
						fmt.Println("\nInterrupted, cancelling... (press Ctrl+C again to force quit)")
						cancel()
					} else {
						fmt.Println("\nForce quitting...")
						os.Exit(1)
					}
				}
			}()

			// Confirm unless --auto-approve is provided
			if !req.ValidateOnly && !autoApprove && isInteractive() {
				fmt.Printf("Deploy %s (stack %s)? [Y/n]: ", req.DomainName, req.StackName())
				var response string
				_, _ = fmt.Scanln(&response)
				response = strings.ToLower(strings.TrimSpace(response))
				if response != "" && response != "y" && response != "yes" {
					fmt.Println("Deployment cancelled.")
					return nil
				}
			}

			awsCfg, err := awsconfig.Load(ctx, awsconfig.Options{
				Region:  req.Region,
				Profile: viper.GetString("profile"),
			})
			if err != nil {
				return fmt.Errorf("failed to load AWS configuration: %w", err)
			}
			clients := awsconfig.NewClients(awsCfg)

			resolver := dns.NewResolver(clients.Route53, log)
			metadata := map[string]string{}
			rev, tracked := revision.Resolve(".")
			if tracked {
				metadata["revision"] = rev
			}

			pipeline := &deploy.Pipeline{
				Zones: resolver,
				Certs: cert.NewProvisioner(clients.ACM, resolver, cert.Config{
					IssueTimeout: certTimeout,
				}, log),
				Stacks: stack.NewConverger(clients.CloudFormation, stack.Config{
					Timeout: stackTimeout,
				}, log),
				Publisher: publish.NewPublisher(clients.S3, clients.CloudFront, metadata, log),
				Params:    params.NewResolver(clients.SecretsManager, log),
				Keys:      params.NewKeys(clients.KMS),
				Log:       log,
			}

			if req.ValidateOnly {
				if _, err := pipeline.Run(ctx, *req); err != nil {
					return err
				}
				fmt.Println("Templates validated successfully. No changes were made.")
				return nil
			}

			progress := NewStageTable(os.Stdout)
			progress.Add(deploy.StageZone, "hosted zone for "+req.DomainName)
			progress.Add(deploy.StageCertificate, req.DomainName+" + www."+req.DomainName)
			progress.Add(deploy.StageStack, req.StackName())
			if req.ContactForm != nil {
				progress.Add(deploy.StageContactForm, req.ContactStackName())
			}
			if req.SiteDir != "" {
				progress.Add(deploy.StagePublish, req.SiteDir)
			}
			pipeline.OnStage = progress.Observe
			progress.PrintPlan()

			result, runErr := pipeline.Run(ctx, *req)
			progress.PrintSummary()
			if result != nil {
				printResult(result, rev)
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&domain, "domain", "", "Site domain name (e.g. example.com)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Resource name prefix for the stacks")
	cmd.Flags().StringVar(&templateFile, "template", defaultWebsiteTemplate, "Path to the website stack template")
	cmd.Flags().StringVar(&siteDir, "site-dir", "", "Directory with the generated site content (default \"dist\")")
	cmd.Flags().StringVarP(&manifestFile, "manifest", "f", "", "Path to a site.hcl manifest (default \"site.hcl\" if present)")
	cmd.Flags().IntVar(&logsLifecycle, "bucket-logs-lifecycle", 365, "Days to keep access logs before expiry")
	cmd.Flags().IntVar(&transitionLifecycle, "bucket-transition-lifecycle", 30, "Days before access logs transition to infrequent access")
	cmd.Flags().StringArrayVar(&variables, "var", nil, "Extra template parameter (Name=value, values may use secret://)")
	cmd.Flags().BoolVar(&contactForm, "contact-form", false, "Deploy the contact form backend stack")
	cmd.Flags().StringVar(&contactTemplate, "contact-template", defaultContactTemplate, "Path to the contact form stack template")
	cmd.Flags().StringVar(&senderEmail, "sender-email", "", "SES sender address for the contact form")
	cmd.Flags().StringVar(&recipientEmail, "recipient-email", "", "Recipient address for contact form submissions")
	cmd.Flags().StringVar(&allowedOrigin, "allowed-origin", "", "CORS origin for the contact form (default https://<domain>)")
	cmd.Flags().StringVar(&lambdaCodeBucket, "lambda-code-bucket", "", "S3 bucket with the packaged contact form function")
	cmd.Flags().StringVar(&lambdaCodeKey, "lambda-code-key", "", "S3 key of the packaged contact form zip")
	cmd.Flags().BoolVar(&validateOnly, "validate", false, "Validate the templates without creating or changing anything")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Skip confirmation prompt")
	cmd.Flags().BoolVar(&skipPublish, "skip-publish", false, "Converge the stacks without uploading content")
	cmd.Flags().DurationVar(&certTimeout, "cert-timeout", 30*time.Minute, "Maximum wait for certificate issuance")
	cmd.Flags().DurationVar(&stackTimeout, "stack-timeout", 30*time.Minute, "Maximum wait for the stack to settle")

	return cmd
}

// requestInput carries the deploy flag values into buildRequest.
type requestInput struct {
	domain              string
	prefix              string
	templateFile        string
	siteDir             string
	manifestFile        string
	logsLifecycle       int
	transitionLifecycle int
	variables           []string
	contactForm         bool
	contactTemplate     string
	senderEmail         string
	recipientEmail      string
	allowedOrigin       string
	lambdaCodeBucket    string
	lambdaCodeKey       string
}

// buildRequest merges the manifest (when present) with the flag values.
// Flags take precedence over manifest settings.
func buildRequest(flags *pflag.FlagSet, in requestInput) (*deploy.Request, error) {
	req := &deploy.Request{
		DomainName:        in.domain,
		Prefix:            in.prefix,
		Region:            viper.GetString("region"),
		LogRetentionDays:  in.logsLifecycle,
		LogTransitionDays: in.transitionLifecycle,
		TemplatePath:      in.templateFile,
		SiteDir:           in.siteDir,
		ExtraParameters:   map[string]string{},
	}

	for _, v := range in.variables {
		parts := strings.SplitN(v, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid --var %q, expected Name=value", v)
		}
		req.ExtraParameters[parts[0]] = parts[1]
	}

	m, err := loadManifest(in.manifestFile)
	if err != nil {
		return nil, err
	}
	if m != nil {
		if req.DomainName == "" {
			req.DomainName = m.Site.Domain
		}
		if req.Prefix == "" {
			req.Prefix = m.Site.Prefix
		}
		if req.Region == "" {
			req.Region = m.Site.Region
		}
		if req.SiteDir == "" {
			req.SiteDir = m.Site.Dir
		}
		if !flags.Changed("bucket-logs-lifecycle") && m.Site.Logs.RetentionDays > 0 {
			req.LogRetentionDays = m.Site.Logs.RetentionDays
		}
		if !flags.Changed("bucket-transition-lifecycle") && m.Site.Logs.TransitionDays > 0 {
			req.LogTransitionDays = m.Site.Logs.TransitionDays
		}
		for k, v := range m.Parameters {
			if _, ok := req.ExtraParameters[k]; !ok {
				req.ExtraParameters[k] = v
			}
		}
	}
	if req.SiteDir == "" {
		req.SiteDir = defaultSiteDir
	}

	var manifestForm *manifest.ContactFormBlock
	if m != nil {
		manifestForm = m.ContactForm
	}
	if in.contactForm || manifestForm != nil {
		form := &deploy.ContactFormRequest{TemplatePath: in.contactTemplate}
		if manifestForm != nil {
			form.SenderEmail = manifestForm.SenderEmail
			form.RecipientEmail = manifestForm.RecipientEmail
			form.AllowedOrigin = manifestForm.AllowedOrigin
			form.MemorySize = manifestForm.MemorySize
			form.TimeoutSeconds = manifestForm.TimeoutSeconds
			form.CodeBucket = manifestForm.CodeBucket
			form.CodeKey = manifestForm.CodeKey
		}
		if in.senderEmail != "" {
			form.SenderEmail = in.senderEmail
		}
		if in.recipientEmail != "" {
			form.RecipientEmail = in.recipientEmail
		}
		if in.allowedOrigin != "" {
			form.AllowedOrigin = in.allowedOrigin
		}
		if in.lambdaCodeBucket != "" {
			form.CodeBucket = in.lambdaCodeBucket
		}
		if in.lambdaCodeKey != "" {
			form.CodeKey = in.lambdaCodeKey
		}
		req.ContactForm = form
	}

	return req, nil
}

// loadManifest parses a site manifest. An unset path falls back to site.hcl
// in the working directory; its absence is not an error.
func loadManifest(path string) (*manifest.Manifest, error) {
	explicit := path != ""
	if !explicit {
		path = defaultManifestFile
		if _, err := os.Stat(path); err != nil {
			return nil, nil
		}
	}

	m, _, err := manifest.NewParser().Parse(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// isInteractive returns true if the CLI is running in an interactive terminal
// and not in a CI environment.
func isInteractive() bool {
	// Check if stdin is a terminal
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}

	// Check for common CI environment variables
	ciEnvVars := []string{
		"CI",
		"CONTINUOUS_INTEGRATION",
		"GITHUB_ACTIONS",
		"GITLAB_CI",
		"CIRCLECI",
		"TRAVIS",
		"JENKINS_URL",
		"BUILDKITE",
		"CODEBUILD_BUILD_ID", // AWS CodeBuild
	}

	for _, env := range ciEnvVars {
		if os.Getenv(env) != "" {
			return false
		}
	}

	return true
}

func printResult(result *deploy.Result, rev string) {
	fmt.Println()
	if result.Certificate.ARN != "" {
		label := "requested"
		if result.Certificate.Reused {
			label = "reused"
		}
		fmt.Printf("Certificate: %s (%s)\n", result.Certificate.ARN, label)
	}
	printDeployment("Stack", &result.Website)
	if result.ContactForm != nil {
		printDeployment("Contact form stack", result.ContactForm)
	}
	if result.Publish != nil {
		fmt.Printf("Published: %d uploaded, %d skipped, %d failed\n",
			result.Publish.Uploaded, result.Publish.Skipped, len(result.Publish.Failed))
		if result.Publish.InvalidationID != "" {
			fmt.Printf("Invalidation: %s\n", result.Publish.InvalidationID)
		}
	}
	if rev != "" {
		fmt.Printf("Revision: %s\n", revision.Short(rev))
	}
}

func printDeployment(label string, d *stack.Deployment) {
	if d.StackName == "" {
		return
	}
	fmt.Printf("%s: %s (%s)\n", label, d.StackName, d.Outcome)
	if len(d.Outputs) == 0 {
		return
	}
	keys := make([]string, 0, len(d.Outputs))
	for k := range d.Outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s = %s\n", k, d.Outputs[k])
	}
}
