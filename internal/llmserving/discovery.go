// Package llmserving discovers self-hosted tester and judge models served as
// KServe InferenceServices and resolves their OpenAI-compatible endpoints.
package llmserving

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// PartOfLabel marks InferenceServices that serve tester or judge models.
const PartOfLabel = "app.kubernetes.io/part-of=agent-testing"

const gpuResource corev1.ResourceName = "nvidia.com/gpu"

var isvcGVR = schema.GroupVersionResource{
	Group:    "serving.kserve.io",
	Version:  "v1beta1",
	Resource: "inferenceservices",
}

// ErrNotReady is returned when a model exists but cannot serve requests yet.
var ErrNotReady = errors.New("model not ready")

// Discovery reads InferenceServices in one namespace.
type Discovery struct {
	client    dynamic.Interface
	namespace string
}

// New creates a Discovery from a kubeconfig or the in-cluster config.
func New(namespace, kubeconfig string, inCluster bool) (*Discovery, error) {
	var (
		config *rest.Config
		err    error
	)
	if inCluster {
		config, err = rest.InClusterConfig()
	} else {
		rules := clientcmd.NewDefaultClientConfigLoadingRules()
		if kubeconfig != "" {
			rules.ExplicitPath = kubeconfig
		}
		config, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes config: %w", err)
	}

	client, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}
	return NewWithClient(client, namespace), nil
}

// NewWithClient creates a Discovery on an existing dynamic client.
func NewWithClient(client dynamic.Interface, namespace string) *Discovery {
	return &Discovery{client: client, namespace: namespace}
}

// Namespace returns the namespace discovery reads from.
func (d *Discovery) Namespace() string {
	return d.namespace
}

// CheckAvailable verifies the InferenceService CRD is installed and readable.
func (d *Discovery) CheckAvailable(ctx context.Context) error {
	_, err := d.client.Resource(isvcGVR).Namespace(d.namespace).List(ctx, metav1.ListOptions{Limit: 1})
	if err != nil {
		return fmt.Errorf("KServe InferenceService CRD is not available in the cluster: %w", err)
	}
	return nil
}

// List returns every model labelled as part of agent testing.
func (d *Discovery) List(ctx context.Context) ([]Model, error) {
	list, err := d.client.Resource(isvcGVR).Namespace(d.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: PartOfLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list InferenceServices: %w", err)
	}

	models := make([]Model, 0, len(list.Items))
	for i := range list.Items {
		isvc, err := decode(&list.Items[i])
		if err != nil {
			slog.Warn("skipping InferenceService", "name", list.Items[i].GetName(), "error", err)
			continue
		}
		models = append(models, d.model(isvc))
	}
	return models, nil
}

// Get returns one model by InferenceService name.
func (d *Discovery) Get(ctx context.Context, name string) (*Model, error) {
	name = resourceName(name)
	item, err := d.client.Resource(isvcGVR).Namespace(d.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get InferenceService %s: %w", name, err)
	}
	isvc, err := decode(item)
	if err != nil {
		return nil, err
	}
	m := d.model(isvc)
	return &m, nil
}

// ResolveEndpoint returns the OpenAI-compatible base URL of a ready model.
func (d *Discovery) ResolveEndpoint(ctx context.Context, name string) (string, error) {
	m, err := d.Get(ctx, name)
	if err != nil {
		return "", err
	}
	if !m.Ready {
		return "", fmt.Errorf("%w: %s (%s)", ErrNotReady, m.Name, m.Message)
	}
	return m.EndpointURL, nil
}

func (d *Discovery) model(isvc *inferenceService) Model {
	m := Model{
		Name:      isvc.Name,
		CreatedAt: isvc.CreationTimestamp.Format(time.RFC3339),
	}
	if spec := isvc.Spec.Predictor.Model; spec != nil {
		if spec.StorageURI != nil {
			m.ModelURI = *spec.StorageURI
		}
		if spec.Runtime != nil {
			m.Runtime = *spec.Runtime
		}
		if gpus, ok := spec.Resources.Limits[gpuResource]; ok {
			m.GPUs = gpus.Value()
		}
	}

	cond := isvc.Status.ready()
	switch {
	case cond != nil && cond.Status == "True":
		m.Ready = true
		m.EndpointURL = openAIBase(isvc.Status.URL, isvc.Name, d.namespace)
	case cond != nil && cond.Message != "":
		m.Message = cond.Message
	default:
		m.Message = "pending"
	}
	return m
}

// openAIBase appends the /v1 prefix vLLM serves the OpenAI API under.
func openAIBase(statusURL, name, namespace string) string {
	if statusURL == "" {
		statusURL = fmt.Sprintf("http://%s.%s.svc.cluster.local", name, namespace)
	}
	statusURL = strings.TrimRight(statusURL, "/")
	if strings.HasSuffix(statusURL, "/v1") {
		return statusURL
	}
	return statusURL + "/v1"
}

func decode(obj *unstructured.Unstructured) (*inferenceService, error) {
	isvc := &inferenceService{}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, isvc); err != nil {
		return nil, fmt.Errorf("failed to decode InferenceService %s: %w", obj.GetName(), err)
	}
	return isvc, nil
}

// resourceName lowercases a model name into a DNS label.
func resourceName(name string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(name) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-':
			b.WriteRune(c)
		case c == '_', c == '.', c == '/', c == '@':
			b.WriteByte('-')
		}
	}
	out := b.String()
	if out != "" && (out[0] < 'a' || out[0] > 'z') {
		out = "m-" + out
	}
	if len(out) > 63 {
		out = out[:63]
	}
	return strings.TrimRight(out, "-")
}
