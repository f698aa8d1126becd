package flowgraph

import (
	"encoding/json"
	"fmt"
)

// NodeConfig is the per-kind configuration payload of a graph node.
// Each node kind has its own concrete config type; decoding a config
// under an unknown kind is a construction-time error, never a runtime
// surprise.
type NodeConfig interface {
	ConfigKind() NodeKind
}

// StartConfig configures a START node
type StartConfig struct{}

func (StartConfig) ConfigKind() NodeKind { return KindStart }

// EndConfig configures an END node
type EndConfig struct{}

func (EndConfig) ConfigKind() NodeKind { return KindEnd }

// ProcessConfig configures a PROCESS node
type ProcessConfig struct {
	Station         string `json:"station,omitempty"`
	ExpectedMinutes int    `json:"expected_minutes,omitempty"`
}

func (ProcessConfig) ConfigKind() NodeKind { return KindProcess }

// QCGateConfig configures a QC_GATE node.
// LimitExpr is an optional CEL expression over the recorded temperature
// (e.g. "temperature <= 4.0"); a PASS decision that violates it is rejected.
type QCGateConfig struct {
	GateNumber int      `json:"gate_number"`
	Blocking   bool     `json:"blocking,omitempty"`
	IsCCP      bool     `json:"is_ccp,omitempty"`
	Checklist  []string `json:"checklist,omitempty"`
	LimitExpr  string   `json:"limit_expr,omitempty"`
}

func (QCGateConfig) ConfigKind() NodeKind { return KindQCGate }

// BufferConfig configures a BUFFER node
type BufferConfig struct {
	MinTempC float64 `json:"min_temp_c"`
	MaxTempC float64 `json:"max_temp_c"`
}

func (BufferConfig) ConfigKind() NodeKind { return KindBuffer }

// ReworkConfig configures a REWORK node. LoopBackTo names the node the
// rework path re-enters; edges out of a REWORK node are the only edges
// allowed to close a cycle.
type ReworkConfig struct {
	LoopBackTo string `json:"loop_back_to"`
}

func (ReworkConfig) ConfigKind() NodeKind { return KindRework }

// GroupConfig configures a GROUP node (layout container, never executed)
type GroupConfig struct {
	Collapsed bool `json:"collapsed,omitempty"`
}

func (GroupConfig) ConfigKind() NodeKind { return KindGroup }

// decodeConfig unmarshals the raw config payload for the given kind.
// An absent or null payload stays nil so a decoded node marshals back
// to the exact bytes it came from.
func decodeConfig(kind NodeKind, raw json.RawMessage) (NodeConfig, error) {
	var cfg NodeConfig
	switch kind {
	case KindStart:
		cfg = &StartConfig{}
	case KindEnd:
		cfg = &EndConfig{}
	case KindProcess:
		cfg = &ProcessConfig{}
	case KindQCGate:
		cfg = &QCGateConfig{}
	case KindBuffer:
		cfg = &BufferConfig{}
	case KindRework:
		cfg = &ReworkConfig{}
	case KindGroup:
		cfg = &GroupConfig{}
	default:
		return nil, fmt.Errorf("unknown node kind: %q", kind)
	}

	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("decode %s config: %w", kind, err)
	}
	return cfg, nil
}
