package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/giantswarm/agent-testing/internal/llm"
	"github.com/giantswarm/agent-testing/internal/llmserving"
)

// llmFlags configure one OpenAI-compatible client.
type llmFlags struct {
	endpoint    string
	apiKey      string
	model       string
	servedModel string
}

// register adds --<prefix>-endpoint, --<prefix>-api-key, --<prefix>-model and
// --<prefix>-served-model to cmd.
func (f *llmFlags) register(cmd *cobra.Command, prefix, role string) {
	cmd.Flags().StringVar(&f.endpoint, prefix+"-endpoint", "", role+" LLM API endpoint URL")
	cmd.Flags().StringVar(&f.apiKey, prefix+"-api-key", "", role+" API key")
	cmd.Flags().StringVar(&f.model, prefix+"-model", "", role+" model name")
	cmd.Flags().StringVar(&f.servedModel, prefix+"-served-model", "", role+" model served via KServe; its endpoint is discovered in the cluster")
}

// newLLMClient creates an LLM client from flags. The API key falls back to the
// first non-empty environment variable in envKeys. A served model is resolved
// through discovery, which may be nil when no cluster is configured.
func newLLMClient(ctx context.Context, f llmFlags, discovery *llmserving.Discovery, envKeys ...string) (llm.Client, error) {
	var opts []llm.Option

	endpoint := f.endpoint
	model := f.model
	if endpoint == "" && f.servedModel != "" {
		if discovery == nil {
			return nil, fmt.Errorf("served model %q requested but no cluster is configured", f.servedModel)
		}
		resolved, err := discovery.ResolveEndpoint(ctx, f.servedModel)
		if err != nil {
			return nil, err
		}
		slog.Info("discovered served model", "model", f.servedModel, "endpoint", resolved)
		endpoint = resolved
		if model == "" {
			model = f.servedModel
		}
	}
	if endpoint != "" {
		opts = append(opts, llm.WithBaseURL(endpoint))
	}
	if model != "" {
		opts = append(opts, llm.WithModel(model))
	}

	apiKey := f.apiKey
	for _, env := range envKeys {
		if apiKey != "" {
			break
		}
		apiKey = os.Getenv(env)
	}
	if apiKey != "" {
		opts = append(opts, llm.WithAPIKey(apiKey))
	}

	if err := llm.ValidateOptions(opts...); err != nil {
		return nil, err
	}
	return llm.NewOpenAIClient(opts...), nil
}

// newDiscovery connects to the cluster for served-model discovery. It returns
// nil when no cluster is reachable.
func newDiscovery(cmd *cobra.Command, inCluster bool) *llmserving.Discovery {
	namespace, _ := cmd.Flags().GetString("namespace")
	kubeconfig, _ := cmd.Flags().GetString("kubeconfig")

	d, err := llmserving.New(namespace, kubeconfig, inCluster)
	if err != nil {
		slog.Debug("model discovery not available", "error", err)
		return nil
	}
	return d
}

// modelName is the model requests should name: the explicit model, else the
// served model.
func (f llmFlags) modelName() string {
	if f.model != "" {
		return f.model
	}
	return f.servedModel
}
