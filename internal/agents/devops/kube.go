package devops

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bosco-os/bosco/internal/agent"
	"github.com/bosco-os/bosco/internal/agents/params"
)

type kubeMeta struct {
	Name              string `json:"name"`
	CreationTimestamp string `json:"creationTimestamp"`
}

type podList struct {
	Items []struct {
		Metadata kubeMeta `json:"metadata"`
		Status   struct {
			Phase             string `json:"phase"`
			ContainerStatuses []struct {
				Ready bool `json:"ready"`
			} `json:"containerStatuses"`
		} `json:"status"`
	} `json:"items"`
}

type serviceList struct {
	Items []struct {
		Metadata kubeMeta `json:"metadata"`
		Spec     struct {
			Type      string `json:"type"`
			ClusterIP string `json:"clusterIP"`
			Ports     []struct {
				Port int `json:"port"`
			} `json:"ports"`
		} `json:"spec"`
	} `json:"items"`
}

type deploymentList struct {
	Items []struct {
		Metadata kubeMeta `json:"metadata"`
		Spec     struct {
			Replicas int `json:"replicas"`
		} `json:"spec"`
		Status struct {
			ReadyReplicas int `json:"readyReplicas"`
		} `json:"status"`
	} `json:"items"`
}

func (h *handler) kubernetes(ctx context.Context, task *agent.Task) (map[string]any, error) {
	c := task.Context
	ns := params.String(c, "namespace", "default")
	switch action := params.String(c, "action", "status"); action {
	case "pods":
		return h.kubePods(ctx, ns)
	case "services", "svc":
		return h.kubeServices(ctx, ns)
	case "deployments":
		return h.kubeDeployments(ctx, ns)
	case "status":
		res := h.runner.Run(ctx, "kubectl cluster-info", h.cfg.CommandTimeout)
		return map[string]any{
			"cluster_info": res.Output,
			"connected":    res.Success,
		}, nil
	default:
		return nil, fmt.Errorf("unknown k8s action: %s", action)
	}
}

func (h *handler) kubectlJSON(ctx context.Context, resource, ns string, v any) error {
	res, err := h.exec(ctx, "kubectl get "+resource+" -n "+params.Quote(ns)+" -o json", h.cfg.CommandTimeout)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(res.Output), v); err != nil {
		return fmt.Errorf("parsing kubectl output: %w", err)
	}
	return nil
}

func (h *handler) kubePods(ctx context.Context, ns string) (map[string]any, error) {
	var list podList
	if err := h.kubectlJSON(ctx, "pods", ns, &list); err != nil {
		return nil, err
	}
	pods := make([]map[string]any, 0, len(list.Items))
	for _, p := range list.Items {
		ready := 0
		for _, cs := range p.Status.ContainerStatuses {
			if cs.Ready {
				ready++
			}
		}
		pods = append(pods, map[string]any{
			"name":   p.Metadata.Name,
			"status": p.Status.Phase,
			"ready":  fmt.Sprintf("%d/%d", ready, len(p.Status.ContainerStatuses)),
			"age":    p.Metadata.CreationTimestamp,
		})
	}
	return map[string]any{"pods": pods, "namespace": ns}, nil
}

func (h *handler) kubeServices(ctx context.Context, ns string) (map[string]any, error) {
	var list serviceList
	if err := h.kubectlJSON(ctx, "svc", ns, &list); err != nil {
		return nil, err
	}
	services := make([]map[string]any, 0, len(list.Items))
	for _, s := range list.Items {
		ports := make([]int, 0, len(s.Spec.Ports))
		for _, p := range s.Spec.Ports {
			ports = append(ports, p.Port)
		}
		services = append(services, map[string]any{
			"name":       s.Metadata.Name,
			"type":       s.Spec.Type,
			"cluster_ip": s.Spec.ClusterIP,
			"ports":      ports,
		})
	}
	return map[string]any{"services": services, "namespace": ns}, nil
}

func (h *handler) kubeDeployments(ctx context.Context, ns string) (map[string]any, error) {
	var list deploymentList
	if err := h.kubectlJSON(ctx, "deployments", ns, &list); err != nil {
		return nil, err
	}
	deployments := make([]map[string]any, 0, len(list.Items))
	for _, d := range list.Items {
		deployments = append(deployments, map[string]any{
			"name":    d.Metadata.Name,
			"ready":   d.Status.ReadyReplicas,
			"desired": d.Spec.Replicas,
			"age":     d.Metadata.CreationTimestamp,
		})
	}
	return map[string]any{"deployments": deployments, "namespace": ns}, nil
}

func (h *handler) deployment(ctx context.Context, task *agent.Task) (map[string]any, error) {
	switch kind := params.String(task.Context, "type", "docker-compose"); kind {
	case "docker-compose", "compose":
		return h.compose(ctx, task.Context)
	case "kubernetes", "k8s":
		return h.kubernetes(ctx, task)
	default:
		return nil, fmt.Errorf("unknown deployment type: %s", kind)
	}
}
