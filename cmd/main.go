package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"digest-agent/handler"
	"digest-agent/internal/integrations/agentapi"
	"digest-agent/internal/integrations/paramstore"
	"digest-agent/internal/integrations/schedule"
	"digest-agent/internal/repository"
	"digest-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	dynamoClient := awsdynamodb.NewFromConfig(cfg)
	stateClient, err := repository.New(dynamoClient, stateTable)
	if err != nil {
		slog.Error("failed to create state client", "err", err)
		os.Exit(1)
	}

	agentClient, err := agentapi.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create agent API client", "err", err)
		os.Exit(1)
	}
	scheduleClient, err := schedule.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create schedule client", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	workflowService, err := usecase.NewWorkflowService(agentClient, ssmClient, stateClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create workflow service", "err", err)
		os.Exit(1)
	}
	workflowService.Load(ctx)

	h, err := handler.NewHandler(workflowService, scheduleClient)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}
