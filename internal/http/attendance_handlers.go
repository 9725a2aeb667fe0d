package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/School-ERP-Techneat/school-add-sub000/internal/model"
	"github.com/School-ERP-Techneat/school-add-sub000/internal/repository"
)

type attendanceRequest struct {
	StudentID string `json:"studentId" validate:"required"`
	Date      string `json:"date" validate:"required"`
	Status    string `json:"status" validate:"required"`
}

type attendanceResponse struct {
	ID         string `json:"id"`
	StudentID  string `json:"studentId"`
	Date       string `json:"date"`
	Status     string `json:"status"`
	RecordedBy string `json:"recordedBy"`
	CreatedOn  int64  `json:"createdOn"`
}

func toAttendanceResponse(rec model.AttendanceRecord) attendanceResponse {
	return attendanceResponse{
		ID:         rec.ID,
		StudentID:  rec.StudentID,
		Date:       rec.Date.Format("2006-01-02"),
		Status:     rec.Status,
		RecordedBy: rec.RecordedBy,
		CreatedOn:  rec.CreatedAt.Unix(),
	}
}

var attendanceStatuses = map[string]bool{
	"present": true,
	"absent":  true,
	"late":    true,
	"excused": true,
}

func (s *Server) handleRecordAttendance(w http.ResponseWriter, r *http.Request) {
	var req attendanceRequest
	if !s.decodeValid(w, r, &req) {
		return
	}

	status := strings.ToLower(strings.TrimSpace(req.Status))
	if !attendanceStatuses[status] {
		writeError(w, http.StatusBadRequest, "invalid_status")
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date")
		return
	}

	if _, err := s.tenantPrincipal(r, req.StudentID, model.KindStudent); err != nil {
		writeError(w, http.StatusNotFound, "student_not_found")
		return
	}

	claims := claimsFromContext(r.Context())
	rec, err := s.store.CreateAttendanceRecord(r.Context(), model.AttendanceRecord{
		SchoolCode: tenantFromContext(r.Context()),
		StudentID:  req.StudentID,
		Date:       date,
		Status:     status,
		RecordedBy: claims.PrincipalID,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			writeError(w, http.StatusBadRequest, "attendance_exists")
			return
		}
		s.serverError(w, err, "recording attendance")
		return
	}
	writeJSON(w, http.StatusCreated, toAttendanceResponse(rec))
}

func (s *Server) handleListAttendance(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "studentId")
	if _, err := s.tenantPrincipal(r, studentID, model.KindStudent); err != nil {
		writeError(w, http.StatusNotFound, "student_not_found")
		return
	}

	records, err := s.store.ListAttendanceByStudent(r.Context(), tenantFromContext(r.Context()), studentID)
	if err != nil {
		s.serverError(w, err, "listing attendance")
		return
	}

	out := make([]attendanceResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toAttendanceResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"studentId": studentID,
		"records":   out,
	})
}
