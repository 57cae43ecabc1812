package main

import (
	"net/http"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"

	"github.com/fpang/page-restyle/internal/boot"
	"github.com/fpang/page-restyle/internal/logging"
)

var handler http.Handler

func init() {
	logging.Init()
	// The API Gateway proxy returns a response only after the handler
	// finishes, and a multi-section job outlasts the integration timeout.
	// Restyle jobs are served by restyle-server; this function serves job
	// records and health.
	handler = boot.NewAPI(boot.InitAWS(), boot.APIOptions{
		Name:              "restyle-lambda",
		Commit:            commitHash,
		BufferedResponses: true,
	})
}

func main() {
	adapter := httpadapter.NewV2(handler)
	lambda.Start(adapter.ProxyWithContext)
}
