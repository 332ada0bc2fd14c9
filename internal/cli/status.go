package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/crofton-cloud/sitectl/pkg/awsconfig"
	"github.com/crofton-cloud/sitectl/pkg/cert"
	"github.com/crofton-cloud/sitectl/pkg/dns"
	"github.com/crofton-cloud/sitectl/pkg/stack"
)

func newStatusCmd() *cobra.Command {
	var (
		domain       string
		prefix       string
		manifestFile string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the deployed site status",
		Long: `Status reports the current state of the site deployment: the website
stack, the contact form stack when present, and the certificate. It is
read-only and never changes anything.

Examples:
  sitectl status --domain example.com --prefix folio
  sitectl status -f site.hcl`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildRequest(cmd.Flags(), requestInput{
				domain:              domain,
				prefix:              prefix,
				manifestFile:        manifestFile,
				templateFile:        defaultWebsiteTemplate,
				logsLifecycle:       365,
				transitionLifecycle: 30,
			})
			if err != nil {
				return err
			}
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

			converger := stack.NewConverger(clients.CloudFormation, stack.DefaultConfig(), log)

			fmt.Printf("Site: %s\n\n", req.DomainName)

			website, found, err := converger.Describe(ctx, req.StackName())
			if err != nil {
				return fmt.Errorf("failed to inspect stack %s: %w", req.StackName(), err)
			}
			if found {
				fmt.Printf("Stack %s: %s\n", website.StackName, website.Status)
				printOutputs(website.Outputs)
			} else {
				fmt.Printf("Stack %s: not deployed\n", req.StackName())
			}

			contact, found, err := converger.Describe(ctx, req.ContactStackName())
			if err != nil {
				return fmt.Errorf("failed to inspect stack %s: %w", req.ContactStackName(), err)
			}
			if found {
				fmt.Printf("Stack %s: %s\n", contact.StackName, contact.Status)
				printOutputs(contact.Outputs)
			}

			resolver := dns.NewResolver(clients.Route53, log)
			provisioner := cert.NewProvisioner(clients.ACM, resolver, cert.DefaultConfig(), log)
			certificate, issued, err := provisioner.Lookup(ctx, req.DomainName)
			if err != nil {
				return fmt.Errorf("failed to look up certificate: %w", err)
			}
			if issued {
				fmt.Printf("Certificate: %s (%s)\n", certificate.ARN, certificate.Status)
			} else {
				fmt.Println("Certificate: none issued")
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&domain, "domain", "", "Site domain name (e.g. example.com)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Resource name prefix used at deploy time")
	cmd.Flags().StringVarP(&manifestFile, "manifest", "f", "", "Path to a site.hcl manifest (default \"site.hcl\" if present)")

	return cmd
}

func printOutputs(outputs map[string]string) {
	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s = %s\n", k, outputs[k])
	}
}
