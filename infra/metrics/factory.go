package metrics

import (
	coremetrics "github.com/coopertaxi/dispatchd/core/metrics"
	"github.com/coopertaxi/dispatchd/infra/logger"
)

// BuildSink assembles the configured sinks into one. With nothing enabled
// it returns a NopSink.
func BuildSink(cfg coremetrics.Config, log logger.Logger) (coremetrics.MetricsSink, error) {
	var sinks []coremetrics.MetricsSink

	if cfg.PrometheusEnabled {
		prom, err := NewPromSink(cfg)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, prom)
	}
	if cfg.InfluxEnabled {
		sinks = append(sinks, NewInfluxSinkWithFallback(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket))
	}

	switch len(sinks) {
	case 0:
		log.Infof("metrics disabled")
		return coremetrics.NopSink{}, nil
	case 1:
		return sinks[0], nil
	default:
		return NewMultiSink(sinks...), nil
	}
}
