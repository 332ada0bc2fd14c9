// Package main provides the contact form Lambda entry point.
package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/rs/zerolog"

	"github.com/crofton-cloud/sitectl/pkg/awsconfig"
	"github.com/crofton-cloud/sitectl/pkg/contactform"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := awsconfig.Load(context.Background(), awsconfig.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load AWS config")
	}

	handler := contactform.NewHandler(
		sesv2.NewFromConfig(cfg),
		contactform.ConfigFromEnv(),
		log,
	)
	lambda.Start(handler.Handle)
}
