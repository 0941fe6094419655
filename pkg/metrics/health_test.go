package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func resetHealth(version string) {
	healthChecker = NewHealthChecker(ComponentRegistry, ComponentScheduler, ComponentEventBus)
	healthChecker.version = version
}

func TestUpdateComponent_Records(t *testing.T) {
	resetHealth("")

	UpdateComponent(ComponentRegistry, true, "running")

	if len(healthChecker.components) != 1 {
		t.Errorf("expected 1 component, got %d", len(healthChecker.components))
	}

	comp := healthChecker.components[ComponentRegistry]
	if !comp.Healthy {
		t.Error("component should be healthy")
	}
	if comp.Message != "running" {
		t.Errorf("expected message 'running', got '%s'", comp.Message)
	}

	UpdateComponent(ComponentRegistry, false, "full")
	if healthChecker.components[ComponentRegistry].Healthy {
		t.Error("component should be unhealthy after update")
	}
}

func TestGetHealth(t *testing.T) {
	resetHealth("1.0.0")

	UpdateComponent(ComponentRegistry, true, "")
	UpdateComponent(ComponentScheduler, true, "")

	health := GetHealth()
	if health.Status != StatusHealthy {
		t.Errorf("expected status 'healthy', got '%s'", health.Status)
	}
	if len(health.Components) != 2 {
		t.Errorf("expected 2 components, got %d", len(health.Components))
	}
	if health.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got '%s'", health.Version)
	}

	UpdateComponent(ComponentEventBus, false, "loop stopped")
	health = GetHealth()
	if health.Status != StatusUnhealthy {
		t.Errorf("expected status 'unhealthy', got '%s'", health.Status)
	}
	if health.Components[ComponentEventBus] != "unhealthy: loop stopped" {
		t.Errorf("unexpected component status %q", health.Components[ComponentEventBus])
	}
}

func TestGetReadiness(t *testing.T) {
	tests := []struct {
		name    string
		setup   func()
		want    string
		message string
	}{
		{
			name: "all critical components healthy",
			setup: func() {
				UpdateComponent(ComponentRegistry, true, "")
				UpdateComponent(ComponentScheduler, true, "")
				UpdateComponent(ComponentEventBus, true, "")
			},
			want: StatusReady,
		},
		{
			name: "scheduler not registered",
			setup: func() {
				UpdateComponent(ComponentRegistry, true, "")
				UpdateComponent(ComponentEventBus, true, "")
			},
			want:    StatusNotReady,
			message: "waiting for scheduler initialization",
		},
		{
			name: "eventbus unhealthy",
			setup: func() {
				UpdateComponent(ComponentRegistry, true, "")
				UpdateComponent(ComponentScheduler, true, "")
				UpdateComponent(ComponentEventBus, false, "stopped")
			},
			want:    StatusNotReady,
			message: "waiting for eventbus",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth("")
			tt.setup()

			readiness := GetReadiness()
			if readiness.Status != tt.want {
				t.Errorf("Status = %v, want %v", readiness.Status, tt.want)
			}
			if readiness.Message != tt.message {
				t.Errorf("Message = %q, want %q", readiness.Message, tt.message)
			}
		})
	}
}

func TestHealthHandler(t *testing.T) {
	resetHealth("test")
	UpdateComponent(ComponentRegistry, true, "")

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var health HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if health.Status != StatusHealthy {
		t.Errorf("expected healthy status, got %s", health.Status)
	}
	if health.Version != "test" {
		t.Errorf("expected version 'test', got %s", health.Version)
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	resetHealth("")
	UpdateComponent(ComponentScheduler, false, "worker exited")

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
}

func TestReadyHandler_NotReady(t *testing.T) {
	resetHealth("")
	UpdateComponent(ComponentRegistry, true, "")

	w := httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest("GET", "/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var readiness HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&readiness); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if readiness.Components[ComponentScheduler] != "not registered" {
		t.Errorf("scheduler = %q, want 'not registered'", readiness.Components[ComponentScheduler])
	}
}
