// Package config assembles the controller's process configuration
// from the environment variables listed in the external interfaces
// specification, with the defaults named there.
package config

import (
	"os"
	"strconv"
	"time"
)

// Placer names the pluggable placement strategy to run.
type Placer string

const (
	PlacerCustom         Placer = "custom"
	PlacerFifoRandom     Placer = "fifo_random"
	PlacerFifoRoundRobin Placer = "fifo_round_robin"
	PlacerFifoGreedy     Placer = "fifo_greedy"
	PlacerRandomRandom   Placer = "random_random"
)

// Config is the controller's full process configuration.
type Config struct {
	Debug bool

	KubeConfig        string
	KFPURL            string
	KFPAPIEndpoint    string
	PrometheusURL     string
	EnableCaching     bool
	PipelinesDir      string
	WaitInterval      time.Duration
	UpdateInterval    time.Duration
	NodeExporterPort  int
	KubeAPIServerPort int
	DatasetsPath      string
	PlacerName        Placer
	Seed              int64
	NPipelinesCSV     string

	ListenAddr string
}

// Load builds a Config from the process environment, falling back to
// spec-mandated defaults for anything unset.
func Load() Config {
	return Config{
		Debug:             envBool("DEBUG", false),
		KubeConfig:        envString("KUBE_CONFIG", ""),
		KFPURL:            envString("KFP_URL", "http://ml-pipeline.kubeflow:8888"),
		KFPAPIEndpoint:    envString("KFP_API_ENDPOINT", "/pipeline/apis/v2beta1/runs"),
		PrometheusURL:     envString("PROMETHEUS_URL", "http://prometheus-k8s.monitoring:9090"),
		EnableCaching:     envBool("ENABLE_CACHING", false),
		PipelinesDir:      envString("PIPELINES_DIR", "/data/pipelines"),
		WaitInterval:      envSeconds("WAIT_INTERVAL", 10*time.Second),
		UpdateInterval:    envSeconds("UPDATE_INTERVAL", 5*time.Second),
		NodeExporterPort:  envInt("NODE_EXPORTER_PORT", 9100),
		KubeAPIServerPort: envInt("KUBE_APISERVER_PORT", 6443),
		DatasetsPath:      envString("DATASETS_PATH", "/data/datasets"),
		PlacerName:        Placer(envString("PLACER", string(PlacerCustom))),
		Seed:              int64(envInt("SEED", 42)),
		NPipelinesCSV:     envString("N_PIPELINES_CSV", "/data/audit.csv"),
		ListenAddr:        envString("LISTEN_ADDR", ":8080"),
	}
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envSeconds(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Second
}
