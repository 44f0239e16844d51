package orchestrator

import (
	"context"
	"fmt"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
)

// TopologiesGVR is the outbound control resource from spec.md §6.
var TopologiesGVR = schema.GroupVersionResource{
	Group:    "clabernetes.containerlab.dev",
	Version:  "v1alpha1",
	Resource: "topologies",
}

const managedByLabel = "app.kubernetes.io/managed-by"
const managedByValue = "topofuse"

// crdClient wraps the dynamic client calls the orchestrator needs,
// grounded on the same dynamic/unstructured pattern used for C5's watch.
type crdClient struct {
	client dynamic.Interface
}

func newCRDClient(client dynamic.Interface) *crdClient {
	return &crdClient{client: client}
}

func (c *crdClient) create(ctx context.Context, name, namespace, containerlabYAML string) error {
	obj := &unstructured.Unstructured{
		Object: map[string]interface{}{
			"apiVersion": TopologiesGVR.GroupVersion().String(),
			"kind":       "Topology",
			"metadata": map[string]interface{}{
				"name":      name,
				"namespace": namespace,
				"labels": map[string]interface{}{
					managedByLabel: managedByValue,
				},
			},
			"spec": map[string]interface{}{
				"definition": map[string]interface{}{
					"containerlab": containerlabYAML,
				},
				"naming": "prefixed",
				"expose": map[string]interface{}{
					"exposeType": "ClusterIP",
				},
			},
		},
	}
	_, err := c.client.Resource(TopologiesGVR).Namespace(namespace).Create(ctx, obj, metav1.CreateOptions{})
	return err
}

func (c *crdClient) delete(ctx context.Context, name, namespace string) error {
	return c.client.Resource(TopologiesGVR).Namespace(namespace).Delete(ctx, name, metav1.DeleteOptions{})
}

func (c *crdClient) get(ctx context.Context, name, namespace string) (*unstructured.Unstructured, error) {
	return c.client.Resource(TopologiesGVR).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
}

func (c *crdClient) listManaged(ctx context.Context) ([]unstructured.Unstructured, error) {
	list, err := c.client.Resource(TopologiesGVR).Namespace("").List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", managedByLabel, managedByValue),
	})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

// statusFromConditions derives LabStatus from status.conditions per
// spec.md §6: Ready=True -> RUNNING, Progressing=True -> DEPLOYING, Ready
// with a reason containing Failed/Error -> FAILED.
func statusFromConditions(obj *unstructured.Unstructured) LabStatus {
	conditions, found, _ := unstructured.NestedSlice(obj.Object, "status", "conditions")
	if !found {
		return StatusPending
	}
	for _, raw := range conditions {
		cond, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		ctype, _ := cond["type"].(string)
		cstatus, _ := cond["status"].(string)
		reason, _ := cond["reason"].(string)

		if ctype == "Ready" && cstatus == "True" {
			return StatusRunning
		}
		if ctype == "Ready" && (strings.Contains(strings.ToLower(reason), "failed") || strings.Contains(strings.ToLower(reason), "error")) {
			return StatusFailed
		}
		if ctype == "Progressing" && cstatus == "True" {
			return StatusDeploying
		}
	}
	return StatusPending
}
