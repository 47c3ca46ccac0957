package service

import (
	"database/sql"
	"os"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/jengzang/inkmap-backend-go/internal/models"
	"github.com/jengzang/inkmap-backend-go/internal/repository"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	for _, file := range []string{"001_create_strokes.sql", "002_create_pins.sql"} {
		schema, err := os.ReadFile("../../migrations/" + file)
		if err != nil {
			t.Fatalf("read migration %s: %v", file, err)
		}
		if _, err := db.Exec(string(schema)); err != nil {
			t.Fatalf("apply migration %s: %v", file, err)
		}
	}
	return db
}

func validTestStroke(id string) models.Stroke {
	return models.Stroke{
		ID:      id,
		BrushID: "pen",
		Color:   "#336699",
		Opacity: 1,
		Size:    3,
		Zoom:    15,
		Points: []models.StrokePoint{
			{Lat: 22.54, Lng: 114.06, Pressure: 0.5},
			{Lat: 22.55, Lng: 114.07, Pressure: 0.6},
		},
		CreatedAt: 1700_000_000_000,
		UpdatedAt: 1700_000_000_000,
	}
}

func TestValidateStroke(t *testing.T) {
	longPath := validTestStroke("long")
	longPath.Points = []models.StrokePoint{
		{Lat: 0, Lng: 0, Pressure: 0.5},
		{Lat: 10, Lng: 10, Pressure: 0.5}, // ~1500 km in one gesture
	}

	manyPoints := validTestStroke("many")
	manyPoints.Points = make([]models.StrokePoint, MaxPointsPerStroke+1)
	for i := range manyPoints.Points {
		manyPoints.Points[i] = models.StrokePoint{Lat: 22.54, Lng: 114.06, Pressure: 0.5}
	}

	mutate := func(fn func(*models.Stroke)) models.Stroke {
		s := validTestStroke("m")
		fn(&s)
		return s
	}

	tests := []struct {
		name    string
		stroke  models.Stroke
		wantErr string
	}{
		{"valid", validTestStroke("ok"), ""},
		{"missing id", mutate(func(s *models.Stroke) { s.ID = "" }), "missing id"},
		{"no points", mutate(func(s *models.Stroke) { s.Points = nil }), "empty point"},
		{"too many points", manyPoints, "too many points"},
		{"opacity above one", mutate(func(s *models.Stroke) { s.Opacity = 1.5 }), "opacity"},
		{"zero brush size", mutate(func(s *models.Stroke) { s.Size = 0 }), "brush size"},
		{"latitude out of range", mutate(func(s *models.Stroke) { s.Points[0].Lat = 91 }), "coordinate range"},
		{"pressure out of range", mutate(func(s *models.Stroke) { s.Points[0].Pressure = 1.2 }), "pressure"},
		{"absurd path length", longPath, "too long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateStroke(&tt.stroke)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("validateStroke: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validateStroke = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSubmitBatchOverridesIdentityAndBounds(t *testing.T) {
	repo := repository.NewStrokeRepository(newTestDB(t))
	svc := NewStrokeService(repo)

	s := validTestStroke("s1")
	s.UserID = "forged"
	s.Username = "forged-name"
	s.MinLat, s.MaxLat = -80, 80 // Bogus client bounds

	count, err := svc.SubmitBatch("u1", "alice", []models.Stroke{s})
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	if count != 1 {
		t.Fatalf("persisted %d strokes, want 1", count)
	}

	got, err := repo.GetByID("s1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.UserID != "u1" || got.Username != "alice" {
		t.Errorf("claimed identity survived: %s/%s", got.UserID, got.Username)
	}
	if got.MinLat != 22.54 || got.MaxLat != 22.55 {
		t.Errorf("client bounds survived: [%v, %v]", got.MinLat, got.MaxLat)
	}
}

func TestSubmitBatchRejectsWholeBatchOnInvalid(t *testing.T) {
	repo := repository.NewStrokeRepository(newTestDB(t))
	svc := NewStrokeService(repo)

	bad := validTestStroke("bad")
	bad.Size = -1

	if _, err := svc.SubmitBatch("u1", "alice", []models.Stroke{validTestStroke("good"), bad}); err == nil {
		t.Fatal("batch with an invalid stroke accepted")
	}
	if got, _ := repo.GetByID("good"); got != nil {
		t.Error("partial batch was persisted")
	}
}

func TestGetViewportValidation(t *testing.T) {
	svc := NewStrokeService(repository.NewStrokeRepository(newTestDB(t)))

	if _, err := svc.GetViewport(models.ViewportFilter{MinLat: 20, MaxLat: 10, MinLng: 0, MaxLng: 10}); err == nil {
		t.Error("inverted viewport accepted")
	}
	if _, err := svc.GetViewport(models.ViewportFilter{MinLat: -100, MaxLat: 10, MinLng: 0, MaxLng: 10}); err == nil {
		t.Error("out-of-range viewport accepted")
	}

	page, err := svc.GetViewport(models.ViewportFilter{MinLat: 0, MaxLat: 10, MinLng: 0, MaxLng: 10})
	if err != nil {
		t.Fatalf("GetViewport: %v", err)
	}
	if page.Data == nil {
		t.Error("empty viewport should return an empty slice, not nil")
	}
}

func TestDeleteReportsOwnership(t *testing.T) {
	repo := repository.NewStrokeRepository(newTestDB(t))
	svc := NewStrokeService(repo)

	if _, err := svc.SubmitBatch("u1", "alice", []models.Stroke{validTestStroke("s1")}); err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}

	// Missing stroke and foreign stroke are indistinguishable
	if ok, err := svc.Delete("s1", "u2"); err != nil || ok {
		t.Errorf("foreign delete = (%v, %v), want (false, nil)", ok, err)
	}
	if ok, err := svc.Delete("missing", "u1"); err != nil || ok {
		t.Errorf("missing delete = (%v, %v), want (false, nil)", ok, err)
	}
	if ok, err := svc.Delete("s1", "u1"); err != nil || !ok {
		t.Errorf("author delete = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestPinSubmitValidation(t *testing.T) {
	svc := NewPinService(repository.NewPinRepository(newTestDB(t)))

	if _, err := svc.Submit("u1", "alice", 95, 10, "hi", "#ff0000"); err == nil {
		t.Error("out-of-range latitude accepted")
	}
	if _, err := svc.Submit("u1", "alice", 10, 10, "   ", "#ff0000"); err == nil {
		t.Error("blank message accepted")
	}
	if _, err := svc.Submit("u1", "alice", 10, 10, strings.Repeat("x", models.MaxPinMessageLen+1), "#ff0000"); err == nil {
		t.Error("overlong message accepted")
	}

	pin, err := svc.Submit("u1", "alice", 10, 10, "  spot  ", "#ff0000")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if pin.Message != "spot" {
		t.Errorf("message = %q, want trimmed", pin.Message)
	}
	if pin.ID == "" {
		t.Error("pin id not assigned")
	}
}
