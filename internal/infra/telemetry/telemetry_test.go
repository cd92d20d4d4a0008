package telemetry

import (
	"context"
	"testing"
)

func TestEnvironmentDefaultsToDevelopment(t *testing.T) {
	SetEnvironment("")
	if got := Environment(); got != "development" {
		t.Fatalf("Environment() = %q, want development", got)
	}
	SetEnvironment("prod")
	defer SetEnvironment("")
	if got := Environment(); got != "prod" {
		t.Fatalf("Environment() = %q, want prod", got)
	}
}

func TestInitWithoutEndpointInstallsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Environment: "test"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if shutdown == nil {
		t.Fatalf("expected shutdown func")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestParseEndpoint(t *testing.T) {
	host, insecure, err := parseEndpoint("http://collector:4318")
	if err != nil {
		t.Fatalf("parseEndpoint: %v", err)
	}
	if host != "collector:4318" {
		t.Fatalf("host = %q", host)
	}
	if !insecure {
		t.Fatalf("expected insecure for http scheme")
	}
	_, insecure, err = parseEndpoint("https://collector:4318")
	if err != nil {
		t.Fatalf("parseEndpoint https: %v", err)
	}
	if insecure {
		t.Fatalf("expected secure for https scheme")
	}
}
