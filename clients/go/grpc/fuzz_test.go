// Fuzz / property-based tests for the gRPC wire mapper.
// Uses the white-box package (package grpc) to reach unexported symbols.
package grpc

import (
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// FuzzStructToResult ensures a response struct maps field for field.
func FuzzStructToResult(f *testing.F) {
	f.Add("checkout", true, "rollout")
	f.Add("", false, "")
	f.Add("flag/with/slashes", false, "flag_not_found")

	f.Fuzz(func(t *testing.T, name string, enabled bool, reason string) {
		s := &structpb.Struct{Fields: map[string]*structpb.Value{
			"flag":    structpb.NewStringValue(name),
			"enabled": structpb.NewBoolValue(enabled),
			"reason":  structpb.NewStringValue(reason),
		}}
		got := structToResult(s)
		if got.Flag != name || got.Enabled != enabled || got.Reason != reason {
			t.Fatalf("got %+v, want {%q %v %q}", got, name, enabled, reason)
		}
	})
}

// FuzzStructToChanges ensures arbitrary change times never panic and that a
// parsed time is reported back unchanged.
func FuzzStructToChanges(f *testing.F) {
	f.Add("launch", "2030-05-01T09:30:00Z", "activation")
	f.Add("", "", "")
	f.Add("x", "not-a-time", "deactivation")
	f.Add("y", "2030-05-01T09:30:00+13:00", "activation")

	f.Fuzz(func(t *testing.T, name, changeTime, changeType string) {
		s := &structpb.Struct{Fields: map[string]*structpb.Value{
			"changes": structpb.NewListValue(&structpb.ListValue{Values: []*structpb.Value{
				structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
					"flag_name":   structpb.NewStringValue(name),
					"change_time": structpb.NewStringValue(changeTime),
					"change_type": structpb.NewStringValue(changeType),
				}}),
			}}),
		}}
		changes, err := structToChanges(s)
		want, parseErr := time.Parse(time.RFC3339, changeTime)
		if parseErr != nil {
			if err == nil {
				t.Fatalf("expected error for change_time %q", changeTime)
			}
			return
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(changes) != 1 || changes[0].FlagName != name || changes[0].ChangeType != changeType || !changes[0].ChangeTime.Equal(want) {
			t.Fatalf("unexpected changes: %+v", changes)
		}
	})
}
