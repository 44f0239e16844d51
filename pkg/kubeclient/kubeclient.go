// Package kubeclient builds the dynamic/unstructured client C5 and C10 share,
// preferring an in-cluster config and falling back to a kubeconfig file
// (adapted from the teacher's cli/k8s config-loading convention and the
// in-cluster-first pattern used across the example pack's agents).
package kubeclient

import (
	"os"
	"path/filepath"

	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// New builds a dynamic.Interface. If kubeconfigPath is empty, it tries the
// in-cluster config first, then $KUBECONFIG, then ~/.kube/config.
func New(kubeconfigPath string) (dynamic.Interface, error) {
	config, err := loadConfig(kubeconfigPath)
	if err != nil {
		return nil, err
	}
	return dynamic.NewForConfig(config)
}

func loadConfig(override string) (*rest.Config, error) {
	if override == "" {
		if cfg, err := rest.InClusterConfig(); err == nil {
			return cfg, nil
		}
	}
	return clientcmd.BuildConfigFromFlags("", findConfigFile(override))
}

func findConfigFile(override string) string {
	if override != "" {
		return override
	}
	if fromEnv := os.Getenv("KUBECONFIG"); fromEnv != "" {
		return fromEnv
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".kube", "config")
}
