package inventory

import (
	"fmt"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

// NewClientsetFromKubeconfig builds a client-go clientset from the
// kubeconfig file at path. An empty path tries the in-cluster config;
// $KUBECONFIG is not consulted.
func NewClientsetFromKubeconfig(path string) (kubernetes.Interface, error) {
	restConfig, err := clientcmd.BuildConfigFromFlags("", path)
	if err != nil {
		return nil, fmt.Errorf("inventory: loading kubeconfig %q: %w", path, err)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("inventory: building clientset: %w", err)
	}
	return clientset, nil
}
