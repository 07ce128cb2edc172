package server

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BioHazard786/classmesh/internal/attendance"
	"github.com/BioHazard786/classmesh/internal/protocol"
)

// canRead lets only the session's teacher see the attendance sheet.
func (s *Server) canRead(w http.ResponseWriter, r *http.Request, sessionID string) bool {
	if err := s.Sessions.CanMark(r.Context(), sessionID, caller(r).UserID()); err != nil {
		s.writeError(w, r, err)
		return false
	}
	return true
}

func (s *Server) listAttendance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if !s.canRead(w, r, id) {
		return
	}
	recs, err := s.Attendance.List(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	now := s.Attendance.Now()
	out := make([]protocol.AttendanceView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, protocol.AttendanceView{
			StudentID:       rec.StudentID,
			StudentName:     rec.StudentName,
			IsPresent:       rec.IsPresent,
			JoinedAt:        rec.JoinedAt,
			LeftAt:          rec.LeftAt,
			DurationSeconds: int64(attendance.Duration(rec, now).Seconds()),
			Manual:          rec.Manual,
			MarkedBy:        rec.MarkedBy,
			MarkedAt:        rec.MarkedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) markAttendance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	var req protocol.MarkRequest
	if !s.decode(w, r, &req) {
		return
	}
	marker := caller(r).UserID()
	if err := s.Attendance.Mark(r.Context(), id, req.StudentID, req.IsPresent, marker); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.announceMark(id, req.StudentID, req.IsPresent, marker)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) markAttendanceBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	var req protocol.BatchMarkRequest
	if !s.decode(w, r, &req) {
		return
	}
	marker := caller(r).UserID()
	results, err := s.Attendance.MarkBatch(r.Context(), id, req.StudentIDs, req.IsPresent, marker)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := protocol.BatchMarkResponse{Results: make([]protocol.BatchMarkResult, 0, len(results))}
	for _, res := range results {
		item := protocol.BatchMarkResult{StudentID: res.StudentID, OK: res.Err == nil}
		if res.Err != nil {
			item.Error = res.Err.Error()
		} else {
			s.announceMark(id, res.StudentID, req.IsPresent, marker)
		}
		resp.Results = append(resp.Results, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

// announceMark tells a live room about a mark made over REST.
func (s *Server) announceMark(sessionID, studentID string, isPresent bool, marker string) {
	msg, err := protocol.New(protocol.TypeAttendanceMarked, protocol.AttendanceMarkedPayload{
		ClassID:   sessionID,
		StudentID: studentID,
		IsPresent: isPresent,
		MarkedBy:  marker,
	})
	if err != nil {
		return
	}
	s.Gateway.Broadcast(sessionID, msg)
}

func (s *Server) exportAttendance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if !s.canRead(w, r, id) {
		return
	}
	var buf bytes.Buffer
	if err := s.Attendance.Export(r.Context(), id, &buf); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="attendance-%s.csv"`, id))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
