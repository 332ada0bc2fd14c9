package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/crofton-cloud/sitectl/pkg/awsconfig"
	"github.com/crofton-cloud/sitectl/pkg/deploy"
	"github.com/crofton-cloud/sitectl/pkg/errors"
	"github.com/crofton-cloud/sitectl/pkg/stack"
)

func newValidateCmd() *cobra.Command {
	var (
		domain          string
		prefix          string
		templateFile    string
		manifestFile    string
		variables       []string
		contactForm     bool
		contactTemplate string
		senderEmail     string
		recipientEmail  string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the stack templates without deploying",
		Long: `Validate checks the CloudFormation templates and the parameter wiring
without creating or changing any resource.

The template Parameters block is checked locally against the values the
deployment would provide, then the template body is validated by
CloudFormation. No stack, certificate, DNS record, or object is touched.

Examples:
  sitectl validate --domain example.com --prefix folio
  sitectl validate -f site.hcl
  sitectl validate --domain example.com --prefix folio --contact-form \
    --sender-email noreply@example.com --recipient-email owner@example.com`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildRequest(cmd.Flags(), requestInput{
				domain:              domain,
				prefix:              prefix,
				templateFile:        templateFile,
				manifestFile:        manifestFile,
				logsLifecycle:       365,
				transitionLifecycle: 30,
				variables:           variables,
				contactForm:         contactForm,
				contactTemplate:     contactTemplate,
				senderEmail:         senderEmail,
				recipientEmail:      recipientEmail,
			})
			if err != nil {
				return err
			}
			req.ValidateOnly = true
			req.Normalize()
			if err := req.Validate(); err != nil {
				return formatValidationError(err)
			}

			log := newLogger()
			ctx := context.Background()

			awsCfg, err := awsconfig.Load(ctx, awsconfig.Options{
				Region:  req.Region,
				Profile: viper.GetString("profile"),
			})
			if err != nil {
				return fmt.Errorf("failed to load AWS configuration: %w", err)
			}
			clients := awsconfig.NewClients(awsCfg)

			pipeline := &deploy.Pipeline{
				Stacks: stack.NewConverger(clients.CloudFormation, stack.DefaultConfig(), log),
				Log:    log,
			}
			if _, err := pipeline.Run(ctx, *req); err != nil {
				return formatValidationError(err)
			}

			fmt.Println("Templates validated successfully. No changes were made.")
			return nil
		},
	}

	cmd.Flags().StringVar(&domain, "domain", "", "Site domain name (e.g. example.com)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Resource name prefix for the stacks")
	cmd.Flags().StringVar(&templateFile, "template", defaultWebsiteTemplate, "Path to the website stack template")
	cmd.Flags().StringVarP(&manifestFile, "manifest", "f", "", "Path to a site.hcl manifest (default \"site.hcl\" if present)")
	cmd.Flags().StringArrayVar(&variables, "var", nil, "Extra template parameter (Name=value)")
	cmd.Flags().BoolVar(&contactForm, "contact-form", false, "Also validate the contact form stack template")
	cmd.Flags().StringVar(&contactTemplate, "contact-template", defaultContactTemplate, "Path to the contact form stack template")
	cmd.Flags().StringVar(&senderEmail, "sender-email", "", "SES sender address for the contact form")
	cmd.Flags().StringVar(&recipientEmail, "recipient-email", "", "Recipient address for contact form submissions")

	return cmd
}

// formatValidationError extracts and displays validation error details
func formatValidationError(err error) error {
	var appErr *errors.Error
	if !stderrors.As(err, &appErr) || appErr.Code != errors.ErrCodeValidation {
		return err
	}

	var items []string
	for _, key := range []string{"problems", "missing", "unknown"} {
		if list, ok := appErr.Details[key].([]string); ok {
			items = append(items, list...)
		}
	}
	if len(items) == 0 {
		return err
	}

	var sb strings.Builder
	sb.WriteString(appErr.Message)
	sb.WriteString("\n\nValidation errors:\n")
	for _, item := range items {
		sb.WriteString(fmt.Sprintf("  - %s\n", item))
	}
	return fmt.Errorf("%s", sb.String())
}
