package orchestrator

import (
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func withConditions(conds ...map[string]interface{}) *unstructured.Unstructured {
	items := make([]interface{}, len(conds))
	for i, c := range conds {
		items[i] = c
	}
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"status": map[string]interface{}{
			"conditions": items,
		},
	}}
}

func TestStatusFromConditionsReady(t *testing.T) {
	obj := withConditions(map[string]interface{}{"type": "Ready", "status": "True"})
	if got := statusFromConditions(obj); got != StatusRunning {
		t.Fatalf("got %v, want RUNNING", got)
	}
}

func TestStatusFromConditionsProgressing(t *testing.T) {
	obj := withConditions(map[string]interface{}{"type": "Progressing", "status": "True"})
	if got := statusFromConditions(obj); got != StatusDeploying {
		t.Fatalf("got %v, want DEPLOYING", got)
	}
}

func TestStatusFromConditionsFailedReason(t *testing.T) {
	obj := withConditions(map[string]interface{}{"type": "Ready", "status": "False", "reason": "DeploymentFailed"})
	if got := statusFromConditions(obj); got != StatusFailed {
		t.Fatalf("got %v, want FAILED", got)
	}
}

func TestStatusFromConditionsNoneMeansPending(t *testing.T) {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{}}
	if got := statusFromConditions(obj); got != StatusPending {
		t.Fatalf("got %v, want PENDING", got)
	}
}
