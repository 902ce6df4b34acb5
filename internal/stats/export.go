package stats

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/mesh-metering-simulator/core"
)

// Struct renders the snapshot as a protobuf Struct.
func (s Snapshot) Struct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"messages_sent":          float64(s.MessagesSent),
		"successes":              float64(s.Successes),
		"faults_with_update":     float64(s.FaultsWithUpdate),
		"faults_without_update":  float64(s.FaultsWithoutUpdate),
		"no_path_skips":          float64(s.NoPathSkips),
		"path_length_sum":        float64(s.PathLengthSum),
		"average_path_length":    s.AveragePathLength(),
		"success_ratio":          s.SuccessRatio(),
		"updated_links":          float64(s.UpdatedLinks),
		"hop_transmissions":      float64(s.HopTransmissions),
		"hop_successes":          float64(s.HopSuccesses),
		"hop_timeouts":           float64(s.HopTimeouts),
		"retransmissions":        float64(s.Retransmissions),
		"request_transmissions":  float64(s.RequestTransmissions),
		"request_bytes":          float64(s.RequestBytes),
		"request_payload_bytes":  float64(s.RequestPayloadBytes),
		"request_blocks":         float64(s.RequestBlocks),
		"response_transmissions": float64(s.ResponseTransmissions),
		"response_bytes":         float64(s.ResponseBytes),
		"response_payload_bytes": float64(s.ResponsePayloadBytes),
		"response_blocks":        float64(s.ResponseBlocks),
	})
}

// DevicesStruct renders the per-device counters keyed by address.
func DevicesStruct(devices []*core.Device) (*structpb.Struct, error) {
	out := make(map[string]any, len(devices))
	for _, d := range devices {
		c := d.Counters()
		out[d.Address().String()] = map[string]any{
			"role":               d.Role().String(),
			"sent":               float64(c.Sent),
			"received":           float64(c.Received),
			"timeouts":           float64(c.Timeouts),
			"broadcasts":         float64(c.Broadcasts),
			"broadcast_timeouts": float64(c.BroadcastTimeouts),
			"not_for_me":         float64(c.NotForMe),
			"retransmissions":    float64(c.Retransmissions),
		}
	}
	return structpb.NewStruct(out)
}

// MarshalSummary renders results and device counters as indented JSON.
func MarshalSummary(s Snapshot, devices []*core.Device) ([]byte, error) {
	results, err := s.Struct()
	if err != nil {
		return nil, fmt.Errorf("results struct: %w", err)
	}
	devs, err := DevicesStruct(devices)
	if err != nil {
		return nil, fmt.Errorf("devices struct: %w", err)
	}
	summary := &structpb.Struct{Fields: map[string]*structpb.Value{
		"results": structpb.NewStructValue(results),
		"devices": structpb.NewStructValue(devs),
	}}
	return protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(summary)
}
