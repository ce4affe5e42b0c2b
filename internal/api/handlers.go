// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/smartvenue/venued/internal/adoption"
	"github.com/smartvenue/venued/internal/cmdq"
	"github.com/smartvenue/venued/internal/model"
	"github.com/smartvenue/venued/internal/store"
)

// --- candidates ---

func (s *Server) listCandidates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.CandidateFilter{
		IncludeHidden:  q.Get("include_hidden") == "true",
		IncludeAdopted: q.Get("include_adopted") == "true",
	}
	if v := q.Get("min_confidence"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, fmt.Errorf("min_confidence: %w", err))
			return
		}
		f.MinConfidence = n
	}
	cands, err := s.store.ListCandidates(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]candidateDTO, 0, len(cands))
	for _, c := range cands {
		out = append(out, toCandidateDTO(c))
	}
	writeJSON(w, http.StatusOK, out)
}

type adoptRequest struct {
	Name string `json:"name"`
}

func (s *Server) adoptCandidate(w http.ResponseWriter, r *http.Request) {
	var body adoptRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	ctrl, err := s.adoption.Adopt(r.Context(), chi.URLParam(r, "mac"), body.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toControllerDTO(ctrl))
}

type sessionResponse struct {
	SessionID  string         `json:"session_id"`
	State      string         `json:"state"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
	Controller *controllerDTO `json:"controller,omitempty"`
}

func toSessionResponse(sess adoption.Session) sessionResponse {
	resp := sessionResponse{SessionID: sess.ID, State: string(sess.State)}
	if !sess.ExpiresAt.IsZero() {
		t := sess.ExpiresAt
		resp.ExpiresAt = &t
	}
	if sess.State == adoption.StateAdopted {
		dto := toControllerDTO(sess.Controller)
		resp.Controller = &dto
	}
	return resp
}

func (s *Server) beginAdopt(w http.ResponseWriter, r *http.Request) {
	var body adoptRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.adoption.BeginAdopt(r.Context(), chi.URLParam(r, "mac"), body.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusCreated
	if sess.State == adoption.StateAwaitingConfirmation {
		code = http.StatusAccepted
	}
	writeJSON(w, code, toSessionResponse(sess))
}

func (s *Server) completeAdopt(w http.ResponseWriter, r *http.Request) {
	var body adoptRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	ctrl, err := s.adoption.CompleteAdopt(r.Context(), chi.URLParam(r, "session"), body.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toControllerDTO(ctrl))
}

func (s *Server) setHidden(hidden bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.store.SetCandidateHidden(r.Context(), chi.URLParam(r, "mac"), hidden); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- controllers ---

func (s *Server) listControllers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ControllerFilter{
		Type:     model.ControllerType(q.Get("type")),
		Protocol: model.Protocol(q.Get("protocol")),
	}
	if v := q.Get("online"); v != "" {
		online := v == "true"
		f.Online = &online
	}
	ctrls, err := s.store.ListControllers(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]controllerDTO, 0, len(ctrls))
	for _, c := range ctrls {
		out = append(out, toControllerDTO(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getController(w http.ResponseWriter, r *http.Request) {
	ctrl, err := s.store.GetController(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toControllerDTO(ctrl))
}

func (s *Server) unadoptController(w http.ResponseWriter, r *http.Request) {
	if err := s.adoption.Unadopt(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	sc, err := s.store.GetStatusCache(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusDTO(sc))
}

func (s *Server) listPorts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetController(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	ports, err := s.store.ListPorts(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]portDTO, 0, len(ports))
	for _, p := range ports {
		out = append(out, toPortDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

type portUpdateRequest struct {
	ConnectedDeviceName *string `json:"connected_device_name"`
	IsActive            *bool   `json:"is_active"`
	TagIDs              *[]int  `json:"tag_ids"`
	DefaultChannel      *string `json:"default_channel"`
}

func (s *Server) updatePort(w http.ResponseWriter, r *http.Request) {
	portNum, err := strconv.Atoi(chi.URLParam(r, "port"))
	if err != nil {
		writeError(w, fmt.Errorf("port: %w", err))
		return
	}
	var body portUpdateRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	p, err := s.store.GetPort(r.Context(), chi.URLParam(r, "id"), portNum)
	if err != nil {
		writeError(w, err)
		return
	}
	if body.ConnectedDeviceName != nil {
		p.ConnectedDeviceName = *body.ConnectedDeviceName
	}
	if body.IsActive != nil {
		p.IsActive = *body.IsActive
	}
	if body.TagIDs != nil {
		p.TagIDs = *body.TagIDs
	}
	if body.DefaultChannel != nil {
		p.DefaultChannel = *body.DefaultChannel
	}
	if err := s.store.UpdatePort(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPortDTO(p))
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, fmt.Errorf("limit must be a positive integer"))
			return
		}
		limit = n
	}
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetController(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	cmds, err := s.store.ListHistory(r.Context(), id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]commandDTO, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, toCommandDTO(c))
	}
	writeJSON(w, http.StatusOK, out)
}

// --- commands ---

type commandRequest struct {
	ControllerID string     `json:"controller_id"`
	Hostname     string     `json:"hostname"`
	PortNumber   int        `json:"port_number"`
	Kind         string     `json:"kind"`
	Channel      string     `json:"channel"`
	Digit        int        `json:"digit"`
	Class        string     `json:"class"`
	Priority     *int       `json:"priority"`
	MaxAttempts  *int       `json:"max_attempts"`
	ScheduledAt  *time.Time `json:"scheduled_at"`
}

// toQueueRequest normalizes a submission. Legacy producers address a
// controller by mDNS hostname; the hostname doubles as the controller id
// once the ".local" suffix is stripped.
func (cr commandRequest) toQueueRequest(remoteAddr string) (cmdq.Request, error) {
	id := cr.ControllerID
	if id == "" {
		id = strings.TrimSuffix(strings.TrimSpace(cr.Hostname), ".local")
	}
	if id == "" {
		return cmdq.Request{}, fmt.Errorf("controller_id or hostname required")
	}
	ip := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		ip = host
	}
	return cmdq.Request{
		ControllerID: id,
		PortNumber:   cr.PortNumber,
		Kind:         model.CommandKind(cr.Kind),
		Channel:      cr.Channel,
		Digit:        cr.Digit,
		Class:        model.CommandClass(cr.Class),
		Priority:     cr.Priority,
		MaxAttempts:  cr.MaxAttempts,
		ScheduledAt:  cr.ScheduledAt,
		UserIP:       ip,
	}, nil
}

type enqueueResponse struct {
	CommandID int64 `json:"command_id"`
}

func (s *Server) enqueueCommand(w http.ResponseWriter, r *http.Request) {
	var body commandRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	req, err := body.toQueueRequest(r.RemoteAddr)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := s.queue.Enqueue(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{CommandID: id})
}

type batchRequest struct {
	Commands []commandRequest `json:"commands"`
}

type batchEnqueueResponse struct {
	BatchID string `json:"batch_id"`
	Total   int    `json:"total"`
}

func (s *Server) enqueueBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	reqs := make([]cmdq.Request, 0, len(body.Commands))
	for i, cr := range body.Commands {
		req, err := cr.toQueueRequest(r.RemoteAddr)
		if err != nil {
			writeError(w, fmt.Errorf("command %d: %w", i, err))
			return
		}
		reqs = append(reqs, req)
	}
	batchID, err := s.queue.EnqueueBatch(r.Context(), reqs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, batchEnqueueResponse{BatchID: batchID, Total: len(reqs)})
}

func (s *Server) getCommand(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("command id: %w", err))
		return
	}
	cmd, err := s.queue.Command(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCommandDTO(cmd))
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "id")
	bs, err := s.queue.BatchStatus(r.Context(), batchID)
	if err != nil {
		writeError(w, err)
		return
	}
	if bs.Total == 0 {
		writeError(w, fmt.Errorf("batch %s: %w", batchID, store.ErrNotFound))
		return
	}
	cmds, err := s.store.ListByBatch(r.Context(), batchID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := batchDTO{
		BatchID:    bs.BatchID,
		Total:      bs.Total,
		Pending:    bs.Pending,
		Processing: bs.Processing,
		Completed:  bs.Completed,
		Failed:     bs.Failed,
		Done:       bs.Done(),
	}
	for _, c := range cmds {
		resp.Commands = append(resp.Commands, toCommandDTO(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) requeueStuck(w http.ResponseWriter, r *http.Request) {
	n, err := s.queue.RequeueStuck(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"requeued": n})
}

// --- schedules ---

type scheduleRequest struct {
	Name           string           `json:"name"`
	CronExpression string           `json:"cron_expression"`
	TargetType     string           `json:"target_type"`
	TargetData     model.TargetData `json:"target_data"`
	Actions        []model.Action   `json:"actions"`
	IsActive       *bool            `json:"is_active"`
}

func (sr scheduleRequest) toModel() model.Schedule {
	active := true
	if sr.IsActive != nil {
		active = *sr.IsActive
	}
	return model.Schedule{
		Name:           sr.Name,
		CronExpression: sr.CronExpression,
		TargetType:     model.TargetType(sr.TargetType),
		TargetData:     sr.TargetData,
		Actions:        sr.Actions,
		IsActive:       active,
	}
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	scs, err := s.scheduler.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]scheduleDTO, 0, len(scs))
	for _, sc := range scs {
		out = append(out, toScheduleDTO(sc))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var body scheduleRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	sc, err := s.scheduler.Create(r.Context(), body.toModel())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toScheduleDTO(sc))
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("schedule id: %w", err))
		return
	}
	sc, err := s.scheduler.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleDTO(sc))
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("schedule id: %w", err))
		return
	}
	var body scheduleRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	sc := body.toModel()
	sc.ID = id
	if err := s.scheduler.Update(r.Context(), sc); err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.scheduler.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleDTO(updated))
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("schedule id: %w", err))
		return
	}
	if err := s.scheduler.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type executionDTO struct {
	ID            int64     `json:"id"`
	BatchID       string    `json:"batch_id"`
	TotalCommands int       `json:"total_commands"`
	CreatedAt     time.Time `json:"created_at"`
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("schedule id: %w", err))
		return
	}
	if _, err := s.scheduler.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	execs, err := s.store.ListScheduleExecutions(r.Context(), id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]executionDTO, 0, len(execs))
	for _, e := range execs {
		out = append(out, executionDTO{
			ID:            e.ID,
			BatchID:       e.BatchID,
			TotalCommands: e.TotalCommands,
			CreatedAt:     e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// --- tags ---

func (s *Server) listTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.ListTags(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]tagDTO, 0, len(tags))
	for _, t := range tags {
		out = append(out, tagDTO{ID: t.ID, Name: t.Name, Color: t.Color, UsageCount: t.UsageCount})
	}
	writeJSON(w, http.StatusOK, out)
}

type tagRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (s *Server) createTag(w http.ResponseWriter, r *http.Request) {
	var body tagRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		writeError(w, fmt.Errorf("tag name required"))
		return
	}
	id, err := s.store.CreateTag(r.Context(), body.Name, body.Color)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tagDTO{ID: id, Name: body.Name, Color: body.Color})
}

func (s *Server) deleteTag(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, fmt.Errorf("tag id: %w", err))
		return
	}
	if err := s.store.DeleteTag(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeBody parses a JSON request body. Unknown fields are rejected so
// typos in producer payloads fail loudly instead of silently defaulting.
// An empty body is fine for endpoints whose fields are all optional.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
