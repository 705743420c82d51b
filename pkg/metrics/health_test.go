package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func resetHealthChecker() {
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
}

func TestRegisterComponent(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("listener", true)

	if len(healthChecker.components) != 1 {
		t.Errorf("expected 1 component, got %d", len(healthChecker.components))
	}

	comp := healthChecker.components["listener"]
	if comp.Status != StatusHealthy {
		t.Errorf("expected healthy status, got %s", comp.Status)
	}
	if !comp.Critical {
		t.Error("component should be critical")
	}
}

func TestGetHealth_AllHealthy(t *testing.T) {
	resetHealthChecker()
	healthChecker.version = "1.0.0"

	RegisterComponent("listener", true)
	RegisterComponent("blobstore", true)

	health := GetHealth()

	if health.Status != string(StatusHealthy) {
		t.Errorf("expected status 'healthy', got '%s'", health.Status)
	}
	if len(health.Components) != 2 {
		t.Errorf("expected 2 components, got %d", len(health.Components))
	}
	if health.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got '%s'", health.Version)
	}
}

func TestGetHealth_OneUnhealthy(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("blobstore", true)
	UpdateComponent("listener", true, StatusUnhealthy, "interface down")

	health := GetHealth()

	if health.Status != string(StatusUnhealthy) {
		t.Errorf("expected status 'unhealthy', got '%s'", health.Status)
	}
	if health.Components["listener"] != "unhealthy: interface down" {
		t.Errorf("unexpected listener status: %s", health.Components["listener"])
	}
}

func TestGetHealth_DegradedTargetIsNotUnhealthy(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("listener", true)
	UpdateComponent("target 1.0", false, StatusDegraded, "read-only: blob store full")

	health := GetHealth()

	if health.Status != string(StatusDegraded) {
		t.Errorf("expected overall status 'degraded', got '%s'", health.Status)
	}
}

func TestGetReadiness_AllReady(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("listener", true)
	RegisterComponent("blobstore", true)

	readiness := GetReadiness()

	if readiness.Status != "ready" {
		t.Errorf("expected status 'ready', got '%s'", readiness.Status)
	}
}

func TestGetReadiness_MissingCriticalComponentNotReady(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("blobstore", true)
	// listener not registered yet

	readiness := GetReadiness()

	if readiness.Status != "not_ready" {
		t.Errorf("expected status 'not_ready', got '%s'", readiness.Status)
	}
	if readiness.Message == "" {
		t.Error("expected message explaining why not ready")
	}
}

func TestGetReadiness_CriticalComponentUnhealthy(t *testing.T) {
	resetHealthChecker()

	UpdateComponent("listener", true, StatusUnhealthy, "interface down")
	RegisterComponent("blobstore", true)

	readiness := GetReadiness()

	if readiness.Status != "not_ready" {
		t.Errorf("expected status 'not_ready', got '%s'", readiness.Status)
	}
}

func TestGetReadiness_CriticalComponentDegradedNotReady(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("listener", true)
	UpdateComponent("blobstore", true, StatusDegraded, "nearly full")

	readiness := GetReadiness()

	if readiness.Status != "not_ready" {
		t.Errorf("degraded critical component should block readiness, got '%s'", readiness.Status)
	}
}

func TestGetReadiness_NonCriticalComponentIgnored(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("listener", true)
	RegisterComponent("blobstore", true)
	UpdateComponent("nbd 1.0", false, StatusUnhealthy, "connection reset")

	readiness := GetReadiness()

	if readiness.Status != "ready" {
		t.Errorf("non-critical component failure should not block readiness, got '%s'", readiness.Status)
	}
	if _, present := readiness.Components["nbd 1.0"]; present {
		t.Error("non-critical component should not appear in readiness output")
	}
}

func TestHealthHandler(t *testing.T) {
	resetHealthChecker()
	healthChecker.version = "test"

	RegisterComponent("listener", true)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	HealthHandler()(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var health HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if health.Status != string(StatusHealthy) {
		t.Errorf("expected healthy status, got %s", health.Status)
	}
	if health.Version != "test" {
		t.Errorf("expected version 'test', got %s", health.Version)
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	resetHealthChecker()
	UpdateComponent("listener", true, StatusUnhealthy, "interface down")

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	HealthHandler()(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var health HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if health.Status != string(StatusUnhealthy) {
		t.Errorf("expected unhealthy status, got %s", health.Status)
	}
}

func TestReadyHandler(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("listener", true)
	RegisterComponent("blobstore", true)

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()

	ReadyHandler()(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var readiness HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&readiness); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if readiness.Status != "ready" {
		t.Errorf("expected ready status, got %s", readiness.Status)
	}
}

func TestReadyHandler_NotReady(t *testing.T) {
	resetHealthChecker()
	RegisterComponent("blobstore", true)
	UpdateComponent("listener", true, StatusUnhealthy, "interface down")

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()

	ReadyHandler()(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var readiness HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&readiness); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if readiness.Status != "not_ready" {
		t.Errorf("expected not_ready status, got %s", readiness.Status)
	}
}

func TestLivenessHandler(t *testing.T) {
	resetHealthChecker()

	req := httptest.NewRequest("GET", "/live", nil)
	w := httptest.NewRecorder()

	LivenessHandler()(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["status"] != "alive" {
		t.Errorf("expected status 'alive', got '%s'", response["status"])
	}
	if response["uptime"] == "" {
		t.Error("uptime should not be empty")
	}
}

func TestUpdateComponent(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("listener", true)
	UpdateComponent("listener", true, StatusUnhealthy, "interface down")

	comp := healthChecker.components["listener"]
	if comp.Status != StatusUnhealthy {
		t.Errorf("expected unhealthy status after update, got %s", comp.Status)
	}
	if comp.Message != "interface down" {
		t.Errorf("expected message 'interface down', got '%s'", comp.Message)
	}
}
