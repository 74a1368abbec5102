package api

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-timers/internal/models"
	"github.com/miradorstack/mirador-timers/internal/utils"
)

// FromProtoCycleRequest maps a RunCycle payload into a domain CycleRequest.
func FromProtoCycleRequest(req *structpb.Struct) (models.CycleRequest, error) {
	if req == nil {
		return models.CycleRequest{}, fmt.Errorf("request is nil")
	}
	fields := req.GetFields()

	out := models.CycleRequest{
		ServiceID: fields["service_id"].GetStringValue(),
		ViewID:    fields["view_id"].GetStringValue(),
		DryRun:    fields["dry_run"].GetBoolValue(),
	}
	if out.ServiceID == "" || out.ViewID == "" {
		return models.CycleRequest{}, fmt.Errorf("service_id and view_id are required")
	}
	if raw := fields["now"].GetStringValue(); raw != "" {
		now, err := utils.ParseRFC3339(raw)
		if err != nil {
			return models.CycleRequest{}, fmt.Errorf("now: %w", err)
		}
		out.Now = now
	}
	return out, nil
}

// ToProtoCycleReport renders a report as a Struct using its JSON field names.
func ToProtoCycleReport(report models.CycleReport) (*structpb.Struct, error) {
	return toStruct(report)
}

// FromProtoListCyclesRequest maps a ListCycles payload into the domain request.
func FromProtoListCyclesRequest(req *structpb.Struct) (models.ListCyclesRequest, error) {
	if req == nil {
		return models.ListCyclesRequest{}, fmt.Errorf("request is nil")
	}
	fields := req.GetFields()
	size := fields["page_size"].GetNumberValue()
	if size < 0 {
		return models.ListCyclesRequest{}, fmt.Errorf("page_size can't be negative")
	}
	return models.ListCyclesRequest{
		ServiceID: fields["service_id"].GetStringValue(),
		PageSize:  int(size),
		PageToken: fields["page_token"].GetStringValue(),
	}, nil
}

// ToProtoListCyclesResponse converts a history page into the Struct shape.
func ToProtoListCyclesResponse(resp models.ListCyclesResponse) (*structpb.Struct, error) {
	cycles := resp.Cycles
	if cycles == nil {
		cycles = []models.CycleReport{}
	}
	return toStruct(struct {
		Cycles        []models.CycleReport `json:"cycles"`
		NextPageToken string               `json:"next_page_token"`
	}{cycles, resp.NextPageToken})
}

// ToProtoHealth builds the HealthCheck response.
func ToProtoHealth(status string, now time.Time) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"status":    status,
		"timestamp": utils.FormatISOMillis(now),
	})
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("convert payload: %w", err)
	}
	return out, nil
}
