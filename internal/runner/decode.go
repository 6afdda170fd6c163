package runner

import (
	"time"

	"github.com/aaaronmiller/datakiln/internal/parallel"
)

// decodeFanOut reads a split node's fan_out block. Concurrency defaults to
// one so an unconfigured split still validates.
func decodeFanOut(cfg map[string]any) (parallel.FanOutConfig, error) {
	block := mapOf(cfg, "fan_out")
	out := parallel.FanOutConfig{
		BatchSize:      configInt(block, "batch_size"),
		MaxConcurrency: configInt(block, "max_concurrency"),
	}
	if out.MaxConcurrency == 0 {
		out.MaxConcurrency = 1
	}
	if bp := mapOf(block, "backpressure"); len(bp) > 0 {
		out.Backpressure = &parallel.Backpressure{
			Enabled:      boolOf(bp, "enabled"),
			MaxQueueSize: configInt(bp, "max_queue_size"),
			DropPolicy:   parallel.DropPolicy(stringOf(bp, "drop_policy")),
		}
	}
	return out, out.Validate()
}

// decodeFanIn reads a merge node's fan_in block. Quorum defaults to ALL, the
// timeout is declared in milliseconds.
func decodeFanIn(cfg map[string]any) (parallel.FanInConfig, error) {
	block := mapOf(cfg, "fan_in")
	quorum := mapOf(block, "quorum")
	in := parallel.FanInConfig{
		Quorum: parallel.Quorum{
			Type:      parallel.QuorumType(stringOf(quorum, "type")),
			Threshold: configInt(quorum, "threshold"),
			Total:     configInt(quorum, "total"),
			Timeout:   time.Duration(configInt(quorum, "timeout")) * time.Millisecond,
		},
	}
	if in.Quorum.Type == "" {
		in.Quorum.Type = parallel.QuorumAll
	}
	if agg := mapOf(block, "aggregation"); len(agg) > 0 {
		in.Aggregation = &parallel.Aggregation{
			Strategy:       parallel.Strategy(stringOf(agg, "strategy")),
			CustomFunction: stringOf(agg, "custom_function"),
		}
	}
	if ord := mapOf(block, "ordering"); len(ord) > 0 {
		in.Ordering = &parallel.Ordering{
			Preserve:  boolOf(ord, "preserve"),
			Key:       stringOf(ord, "key"),
			Direction: parallel.Direction(stringOf(ord, "direction")),
		}
	}
	return in, in.Validate()
}

func mapOf(cfg map[string]any, key string) map[string]any {
	if cfg == nil {
		return nil
	}
	block, _ := cfg[key].(map[string]any)
	return block
}

func stringOf(cfg map[string]any, key string) string {
	s, _ := cfg[key].(string)
	return s
}

func boolOf(cfg map[string]any, key string) bool {
	b, _ := cfg[key].(bool)
	return b
}
