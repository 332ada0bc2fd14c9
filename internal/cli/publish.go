package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/crofton-cloud/sitectl/pkg/awsconfig"
	"github.com/crofton-cloud/sitectl/pkg/deploy"
	"github.com/crofton-cloud/sitectl/pkg/publish"
	"github.com/crofton-cloud/sitectl/pkg/revision"
	"github.com/crofton-cloud/sitectl/pkg/stack"
)

func newPublishCmd() *cobra.Command {
	var (
		domain       string
		prefix       string
		siteDir      string
		manifestFile string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload the site content without touching the infrastructure",
		Long: `Publish uploads the generated site content to the already deployed site
bucket and invalidates the CloudFront cache. Certificates and stack state
are left untouched; the stack must have been deployed before.

Unchanged files (matching content hash) are skipped.

Examples:
  sitectl publish --domain example.com --prefix folio
  sitectl publish -f site.hcl --site-dir dist`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildRequest(cmd.Flags(), requestInput{
				domain:              domain,
				prefix:              prefix,
				siteDir:             siteDir,
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

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)
			go func() {
				<-sigChan
				fmt.Println("\nInterrupted, cancelling...")
				cancel()
			}()

			awsCfg, err := awsconfig.Load(ctx, awsconfig.Options{
				Region:  req.Region,
				Profile: viper.GetString("profile"),
			})
			if err != nil {
				return fmt.Errorf("failed to load AWS configuration: %w", err)
			}
			clients := awsconfig.NewClients(awsCfg)

			converger := stack.NewConverger(clients.CloudFormation, stack.DefaultConfig(), log)
			deployment, found, err := converger.Describe(ctx, req.StackName())
			if err != nil {
				return fmt.Errorf("failed to inspect stack %s: %w", req.StackName(), err)
			}
			if !found {
				return fmt.Errorf("stack %s not found; run sitectl deploy first", req.StackName())
			}

			assets, err := publish.ScanDir(req.SiteDir)
			if err != nil {
				return err
			}

			metadata := map[string]string{}
			rev, tracked := revision.Resolve(".")
			if tracked {
				metadata["revision"] = rev
			}

			bucket := deployment.Outputs[deploy.OutputSiteBucket]
			if bucket == "" {
				bucket = req.DomainName
			}
			publisher := publish.NewPublisher(clients.S3, clients.CloudFront, metadata, log)
			report, pubErr := publisher.Publish(ctx, assets, publish.Destination{
				Bucket:         bucket,
				DistributionID: deployment.Outputs[deploy.OutputDistributionID],
			})

			fmt.Printf("Published %d files to %s (%d skipped, %d failed)\n",
				report.Uploaded, bucket, report.Skipped, len(report.Failed))
			if report.InvalidationID != "" {
				fmt.Printf("Invalidation: %s\n", report.InvalidationID)
			}
			if tracked {
				fmt.Printf("Revision: %s\n", revision.Short(rev))
			}
			return pubErr
		},
	}

	cmd.Flags().StringVar(&domain, "domain", "", "Site domain name (e.g. example.com)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Resource name prefix used at deploy time")
	cmd.Flags().StringVar(&siteDir, "site-dir", "", "Directory with the generated site content (default \"dist\")")
	cmd.Flags().StringVarP(&manifestFile, "manifest", "f", "", "Path to a site.hcl manifest (default \"site.hcl\" if present)")

	return cmd
}
