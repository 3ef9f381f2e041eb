package llmserving

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// inferenceService is the subset of the serving.kserve.io/v1beta1
// InferenceService schema that discovery reads.
type inferenceService struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec struct {
		Predictor struct {
			Model *predictorModel `json:"model,omitempty"`
		} `json:"predictor"`
	} `json:"spec,omitempty"`
	Status serviceStatus `json:"status,omitempty"`
}

type predictorModel struct {
	ModelFormat struct {
		Name string `json:"name"`
	} `json:"modelFormat"`
	Runtime    *string                     `json:"runtime,omitempty"`
	StorageURI *string                     `json:"storageUri,omitempty"`
	Resources  corev1.ResourceRequirements `json:"resources,omitempty"`
}

// serviceStatus follows the Knative condition schema.
type serviceStatus struct {
	URL        string      `json:"url,omitempty"`
	Conditions []condition `json:"conditions,omitempty"`
}

type condition struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s serviceStatus) ready() *condition {
	for i := range s.Conditions {
		if s.Conditions[i].Type == "Ready" {
			return &s.Conditions[i]
		}
	}
	return nil
}

// Model is the observed state of a served model.
type Model struct {
	Name        string `json:"name"`
	Ready       bool   `json:"ready"`
	EndpointURL string `json:"endpoint_url,omitempty"`
	ModelURI    string `json:"model_uri,omitempty"`
	Runtime     string `json:"runtime,omitempty"`
	GPUs        int64  `json:"gpus,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	Message     string `json:"message,omitempty"`
}
