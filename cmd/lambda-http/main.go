package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=arm64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-http
//
// API Gateway buffers responses, so the SSE endpoints deliver their events
// only when the run ends. Deploy cmd/api where live progress matters.

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"

	"analyzer-backend/internal/bootstrap"
	"analyzer-backend/internal/shared/config"
	"analyzer-backend/internal/shared/telemetry"
)

var (
	initOnce  sync.Once
	initErr   error
	ginLambda *ginadapter.GinLambdaV2
)

func initApp() {
	cfg := config.Load()
	telemetry.Setup(telemetry.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "lambda-http"})
	app, err := bootstrap.Build(context.Background(), cfg, bootstrap.RoleAPI)
	if err != nil {
		initErr = err
		return
	}
	ginLambda = ginadapter.NewV2(app.Router)
}

func handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		telemetry.Error("lambda.bootstrap_failed", map[string]any{"error": initErr})
		body, _ := json.Marshal(map[string]string{"error": "bootstrap failed"})
		return events.APIGatewayV2HTTPResponse{
			StatusCode: 500,
			Body:       string(body),
			Headers:    map[string]string{"Content-Type": "application/json"},
		}, initErr
	}
	return ginLambda.ProxyWithContext(ctx, req)
}

func main() {
	lambda.Start(handler)
}
