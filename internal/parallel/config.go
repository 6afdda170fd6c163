package parallel

import (
	"fmt"
	"time"
)

// DropPolicy decides what happens to new fan-out work when the active
// parallel-task queue is saturated.
type DropPolicy string

const (
	// DropOldest evicts the oldest active task and admits the new one.
	DropOldest DropPolicy = "drop_oldest"
	// DropNewest rejects the incoming call.
	DropNewest DropPolicy = "drop_newest"
	// Reject rejects the incoming call. Alias of DropNewest in effect.
	Reject DropPolicy = "reject"
)

// Backpressure caps the number of concurrently active parallel tasks.
type Backpressure struct {
	Enabled      bool       `yaml:"enabled"`
	MaxQueueSize int        `yaml:"max_queue_size"`
	DropPolicy   DropPolicy `yaml:"drop_policy"`
}

// FanOutConfig shapes one fan-out invocation.
type FanOutConfig struct {
	// BatchSize groups inputs before dispatch. Zero means one input per
	// batch.
	BatchSize      int           `yaml:"batch_size"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	Backpressure   *Backpressure `yaml:"backpressure"`
}

// Validate rejects configurations the fan-out loop cannot honor.
func (c FanOutConfig) Validate() error {
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("parallel: max concurrency must be positive, got %d", c.MaxConcurrency)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("parallel: batch size must not be negative, got %d", c.BatchSize)
	}
	if bp := c.Backpressure; bp != nil && bp.Enabled {
		if bp.MaxQueueSize <= 0 {
			return fmt.Errorf("parallel: backpressure queue size must be positive, got %d", bp.MaxQueueSize)
		}
		switch bp.DropPolicy {
		case DropOldest, DropNewest, Reject:
		default:
			return fmt.Errorf("parallel: unknown drop policy %q", bp.DropPolicy)
		}
	}
	return nil
}

func (c FanOutConfig) batchSize() int {
	if c.BatchSize <= 0 {
		return 1
	}
	return c.BatchSize
}

// QuorumType enumerates the fan-in wait conditions.
type QuorumType string

const (
	QuorumAll      QuorumType = "ALL"
	QuorumFirst    QuorumType = "FIRST"
	QuorumMajority QuorumType = "MAJORITY"
	QuorumNOfM     QuorumType = "N_OF_M"
)

// Quorum describes how many of the fan-in inputs must arrive before
// aggregation proceeds.
type Quorum struct {
	Type      QuorumType    `yaml:"type"`
	Threshold int           `yaml:"threshold"`
	Total     int           `yaml:"total"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Strategy enumerates the fan-in aggregation strategies.
type Strategy string

const (
	StrategyConcat Strategy = "concat"
	StrategyMerge  Strategy = "merge"
	StrategyReduce Strategy = "reduce"
	StrategyRank   Strategy = "rank"
	StrategyCustom Strategy = "custom"
)

// Aggregation selects how satisfied fan-in inputs are combined.
type Aggregation struct {
	Strategy Strategy `yaml:"strategy"`
	// CustomFunction names a registered aggregator when Strategy is custom.
	CustomFunction string `yaml:"custom_function"`
}

// Direction orders an aggregated array result.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// Ordering optionally sorts the aggregated fan-in result by a field key.
type Ordering struct {
	Preserve  bool      `yaml:"preserve"`
	Key       string    `yaml:"key"`
	Direction Direction `yaml:"direction"`
}

// FanInConfig shapes one fan-in invocation.
type FanInConfig struct {
	Quorum      Quorum       `yaml:"quorum"`
	Aggregation *Aggregation `yaml:"aggregation"`
	Ordering    *Ordering    `yaml:"ordering"`
}

const (
	// DefaultTickInterval is the fan-in poll cadence.
	DefaultTickInterval = 100 * time.Millisecond
	// DefaultQuorumTimeout bounds how long fan-in waits for quorum.
	DefaultQuorumTimeout = 30 * time.Second
)

// Validate rejects quorum configurations that can never be satisfied.
func (c FanInConfig) Validate() error {
	switch c.Quorum.Type {
	case QuorumAll, QuorumFirst, QuorumMajority:
	case QuorumNOfM:
		if c.Quorum.Threshold <= 0 {
			return fmt.Errorf("parallel: N_OF_M quorum needs a positive threshold, got %d", c.Quorum.Threshold)
		}
		if c.Quorum.Total > 0 && c.Quorum.Threshold > c.Quorum.Total {
			return fmt.Errorf("parallel: N_OF_M threshold %d exceeds total %d", c.Quorum.Threshold, c.Quorum.Total)
		}
	default:
		return fmt.Errorf("parallel: unknown quorum type %q", c.Quorum.Type)
	}
	if agg := c.Aggregation; agg != nil {
		switch agg.Strategy {
		case StrategyConcat, StrategyMerge, StrategyReduce, StrategyRank:
		case StrategyCustom:
			if agg.CustomFunction == "" {
				return fmt.Errorf("parallel: custom aggregation needs a function name")
			}
		case "":
		default:
			return fmt.Errorf("parallel: unknown aggregation strategy %q", agg.Strategy)
		}
	}
	if ord := c.Ordering; ord != nil && ord.Preserve && ord.Key != "" {
		switch ord.Direction {
		case Ascending, Descending, "":
		default:
			return fmt.Errorf("parallel: unknown ordering direction %q", ord.Direction)
		}
	}
	return nil
}

func (c FanInConfig) timeout() time.Duration {
	if c.Quorum.Timeout <= 0 {
		return DefaultQuorumTimeout
	}
	return c.Quorum.Timeout
}
