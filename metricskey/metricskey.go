package metricskey

import "github.com/effective-security/metrics"

// Perf
var (
	// PerfEngineOperation is perf metric
	PerfEngineOperation = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_gpg_engine",
		Help:         "perf_gpg_engine provides the sample metrics of GPG engine invocations",
		RequiredTags: []string{"binary", "operation"},
	}

	// PerfPipeline is perf metric
	PerfPipeline = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_gpg_pipeline",
		Help:         "perf_gpg_pipeline provides the sample metrics of GPG pipeline runs",
		RequiredTags: []string{"pipeline", "status"},
	}
)

// Metrics returns slice of metrics from this repo
var Metrics = []*metrics.Describe{
	&PerfEngineOperation,
	&PerfPipeline,
}
