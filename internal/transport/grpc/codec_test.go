package grpc

import (
	"testing"
	"time"

	"google.golang.org/grpc/encoding"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestCodec_Registered(t *testing.T) {
	if encoding.GetCodec(CodecName) == nil {
		t.Fatalf("codec %q not registered", CodecName)
	}
}

func TestCodec_PlainStructs(t *testing.T) {
	c := jsonCodec{}
	start := time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)
	in := &BookAppointmentRequest{StaffID: "s", StartTime: &start, Notes: "n"}

	data, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out BookAppointmentRequest
	if err := c.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.StaffID != "s" || out.Notes != "n" || out.StartTime == nil || !out.StartTime.Equal(start) || out.EndTime != nil {
		t.Fatalf("decoded = %+v", out)
	}

	var empty ListAppointmentsRequest
	if err := c.Unmarshal(nil, &empty); err != nil {
		t.Fatalf("Unmarshal empty: %v", err)
	}
}

func TestCodec_ProtoMessages(t *testing.T) {
	c := jsonCodec{}
	data, err := c.Marshal(&healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out healthpb.HealthCheckRequest
	if err := c.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.GetService() != ServiceName {
		t.Fatalf("service = %q", out.GetService())
	}
}
