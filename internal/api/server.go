package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"partyfinder/internal/provisioner"
	"partyfinder/internal/session"
	"partyfinder/pkg/interfaces"
	"partyfinder/pkg/types"
)

// Registry abstracts the gateway registry for health reporting
type Registry interface {
	Stats() map[string]int
}

// HealthChecker abstracts the store's connectivity probe
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server is the HTTP surface over the coordinator. It holds no business
// logic: requests are decoded, passed through, and errors translated to
// status codes.
type Server struct {
	coordinator interfaces.Coordinator
	health      HealthChecker
	registry    Registry
	router      *http.ServeMux
}

// NewServer creates the API server and sets up routing
func NewServer(coordinator interfaces.Coordinator, health HealthChecker, registry Registry) *Server {
	s := &Server{
		coordinator: coordinator,
		health:      health,
		registry:    registry,
		router:      http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/recruitments", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleRecruitments))))
	s.router.Handle("/api/recruitments/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleRecruitmentByID))))
	s.router.Handle("/api/resources/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleResourceByID))))
	s.router.Handle("/api/guilds/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleGuildByID))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types
type OpenRecruitmentRequest struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	HostID    string `json:"host_id"`
	Capacity  int    `json:"capacity"`
	Mode      string `json:"mode"`
	RankRange string `json:"rank_range"`
}

type MemberRequest struct {
	MemberID string `json:"member_id"`
}

type CloseRequest struct {
	ActorID   string `json:"actor_id"`
	Moderator bool   `json:"moderator"`
}

type CodeRequest struct {
	Code string `json:"code"`
}

type LimitRequest struct {
	Limit int `json:"limit"`
}

type AdditionalRecruitmentRequest struct {
	HostID string `json:"host_id"`
	Needed int    `json:"needed"`
}

type RecruitChannelRequest struct {
	ChannelID string `json:"channel_id"`
}

type SessionResponse struct {
	Session types.SessionSnapshot `json:"session"`
}

type ListSessionsResponse struct {
	Sessions []types.SessionSnapshot `json:"sessions"`
}

type ResourceResponse struct {
	Resource types.ResourceSnapshot `json:"resource"`
}

type LockResponse struct {
	Locked bool `json:"locked"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// handleRecruitments serves the collection: POST opens, GET lists
func (s *Server) handleRecruitments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.openRecruitment(w, r)
	case http.MethodGet:
		s.listRecruitments(w, r)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRecruitmentByID serves /api/recruitments/{id} and its actions
func (s *Server) handleRecruitmentByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitPath(r.URL.Path, "/api/recruitments/")
	if id == "" {
		s.sendError(w, "Recruitment ID required", http.StatusBadRequest)
		return
	}

	if action == "" {
		if r.Method != http.MethodGet {
			s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.getRecruitment(w, r, id)
		return
	}

	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch action {
	case "join":
		s.joinRecruitment(w, r, id)
	case "leave":
		s.leaveRecruitment(w, r, id)
	case "close":
		s.closeRecruitment(w, r, id)
	default:
		s.sendError(w, "Unknown action", http.StatusNotFound)
	}
}

// handleResourceByID serves /api/resources/{id} and its actions
func (s *Server) handleResourceByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitPath(r.URL.Path, "/api/resources/")
	if id == "" {
		s.sendError(w, "Resource ID required", http.StatusBadRequest)
		return
	}

	if action == "" {
		if r.Method != http.MethodGet {
			s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.getResource(w, r, id)
		return
	}

	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch action {
	case "grant":
		s.grantAccess(w, r, id)
	case "owner":
		s.reassignOwner(w, r, id)
	case "lock":
		s.toggleLock(w, r, id)
	case "code":
		s.setAccessCode(w, r, id)
	case "limit":
		s.setUserLimit(w, r, id)
	case "disband":
		s.disband(w, r, id)
	case "recruit":
		s.openAdditionalRecruitment(w, r, id)
	default:
		s.sendError(w, "Unknown action", http.StatusNotFound)
	}
}

// handleGuildByID serves /api/guilds/{id} administration
func (s *Server) handleGuildByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitPath(r.URL.Path, "/api/guilds/")
	if id == "" {
		s.sendError(w, "Guild ID required", http.StatusBadRequest)
		return
	}
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch action {
	case "recruit-channel":
		s.setRecruitChannel(w, r, id)
	case "dashboard":
		s.repostDashboard(w, r, id)
	default:
		s.sendError(w, "Unknown action", http.StatusNotFound)
	}
}

func (s *Server) openRecruitment(w http.ResponseWriter, r *http.Request) {
	var req OpenRecruitmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	snapshot, err := s.coordinator.OpenRecruitment(r.Context(), interfaces.OpenRequest{
		GuildID:   req.GuildID,
		ChannelID: req.ChannelID,
		HostID:    req.HostID,
		Capacity:  req.Capacity,
		Mode:      req.Mode,
		RankRange: req.RankRange,
	})
	if err != nil {
		s.sendCoordinatorError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(SessionResponse{Session: snapshot})
}

func (s *Server) listRecruitments(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.coordinator.ListOpenSessions(r.Context())
	if err != nil {
		s.sendCoordinatorError(w, err)
		return
	}
	if sessions == nil {
		sessions = []types.SessionSnapshot{}
	}
	_ = json.NewEncoder(w).Encode(ListSessionsResponse{Sessions: sessions})
}

func (s *Server) getRecruitment(w http.ResponseWriter, r *http.Request, id string) {
	snapshot, err := s.coordinator.GetSession(r.Context(), id)
	if err != nil {
		s.sendCoordinatorError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(SessionResponse{Session: snapshot})
}

func (s *Server) joinRecruitment(w http.ResponseWriter, r *http.Request, id string) {
	var req MemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MemberID == "" {
		s.sendError(w, "member_id is required", http.StatusBadRequest)
		return
	}

	snapshot, err := s.coordinator.Join(r.Context(), id, req.MemberID)
	if err != nil {
		s.sendCoordinatorError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(SessionResponse{Session: snapshot})
}

func (s *Server) leaveRecruitment(w http.ResponseWriter, r *http.Request, id string) {
	var req MemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MemberID == "" {
		s.sendError(w, "member_id is required", http.StatusBadRequest)
		return
	}

	snapshot, err := s.coordinator.Leave(r.Context(), id, req.MemberID)
	if err != nil {
		s.sendCoordinatorError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(SessionResponse{Session: snapshot})
}

func (s *Server) closeRecruitment(w http.ResponseWriter, r *http.Request, id string) {
	var req CloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ActorID == "" {
		s.sendError(w, "actor_id is required", http.StatusBadRequest)
		return
	}

	snapshot, err := s.coordinator.Close(r.Context(), id, req.ActorID, req.Moderator)
	if err != nil {
		s.sendCoordinatorError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(SessionResponse{Session: snapshot})
}

func (s *Server) getResource(w http.ResponseWriter, r *http.Request, voiceID string) {
	snapshot, err := s.coordinator.GetResource(r.Context(), voiceID)
	if err != nil {
		s.sendCoordinatorError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(ResourceResponse{Resource: snapshot})
}

func (s *Server) grantAccess(w http.ResponseWriter, r *http.Request, voiceID string) {
	var req MemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MemberID == "" {
		s.sendError(w, "member_id is required", http.StatusBadRequest)
		return
	}

	if err := s.coordinator.GrantAccess(r.Context(), voiceID, req.MemberID); err != nil {
		s.sendCoordinatorError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "Access granted"})
}

func (s *Server) reassignOwner(w http.ResponseWriter, r *http.Request, voiceID string) {
	var req MemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MemberID == "" {
		s.sendError(w, "member_id is required", http.StatusBadRequest)
		return
	}

	if err := s.coordinator.ReassignOwner(r.Context(), voiceID, req.MemberID); err != nil {
		s.sendCoordinatorError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "Owner reassigned"})
}

func (s *Server) toggleLock(w http.ResponseWriter, r *http.Request, voiceID string) {
	locked, err := s.coordinator.ToggleLock(r.Context(), voiceID)
	if err != nil {
		s.sendCoordinatorError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(LockResponse{Locked: locked})
}

func (s *Server) setAccessCode(w http.ResponseWriter, r *http.Request, voiceID string) {
	var req CodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := s.coordinator.SetAccessCode(r.Context(), voiceID, req.Code); err != nil {
		s.sendCoordinatorError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "Access code updated"})
}

func (s *Server) setUserLimit(w http.ResponseWriter, r *http.Request, voiceID string) {
	var req LimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := s.coordinator.SetUserLimit(r.Context(), voiceID, req.Limit); err != nil {
		s.sendCoordinatorError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "User limit updated"})
}

func (s *Server) disband(w http.ResponseWriter, r *http.Request, voiceID string) {
	if err := s.coordinator.Disband(r.Context(), voiceID); err != nil {
		s.sendCoordinatorError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "Resource disbanded"})
}

func (s *Server) openAdditionalRecruitment(w http.ResponseWriter, r *http.Request, voiceID string) {
	var req AdditionalRecruitmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.HostID == "" {
		s.sendError(w, "host_id is required", http.StatusBadRequest)
		return
	}

	snapshot, err := s.coordinator.OpenAdditionalRecruitment(r.Context(), voiceID, req.HostID, req.Needed)
	if err != nil {
		s.sendCoordinatorError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(SessionResponse{Session: snapshot})
}

func (s *Server) setRecruitChannel(w http.ResponseWriter, r *http.Request, guildID string) {
	var req RecruitChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChannelID == "" {
		s.sendError(w, "channel_id is required", http.StatusBadRequest)
		return
	}

	if err := s.coordinator.SetRecruitChannel(r.Context(), guildID, req.ChannelID); err != nil {
		s.sendCoordinatorError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "Recruit channel updated"})
}

func (s *Server) repostDashboard(w http.ResponseWriter, r *http.Request, guildID string) {
	if err := s.coordinator.RepostDashboard(r.Context(), guildID); err != nil {
		s.sendCoordinatorError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "Dashboard reposted"})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.health.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.registry.Stats(),
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(response)
}

// sendCoordinatorError maps domain errors onto HTTP status codes
func (s *Server) sendCoordinatorError(w http.ResponseWriter, err error) {
	s.sendError(w, err.Error(), statusForError(err))
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrSessionNotFound),
		errors.Is(err, interfaces.ErrResourceNotFound),
		errors.Is(err, interfaces.ErrGuildConfigNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNotHost):
		return http.StatusForbidden
	case errors.Is(err, session.ErrAlreadyJoined),
		errors.Is(err, session.ErrNotJoined),
		errors.Is(err, session.ErrSessionClosed),
		errors.Is(err, session.ErrSessionFull),
		errors.Is(err, session.ErrHostSelfJoin),
		errors.Is(err, provisioner.ErrNotAMember):
		return http.StatusConflict
	case errors.Is(err, provisioner.ErrProvisionFailed):
		return http.StatusBadGateway
	case errors.Is(err, interfaces.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, types.ErrInvalidID),
		errors.Is(err, types.ErrInvalidCapacity),
		errors.Is(err, types.ErrInvalidHost),
		errors.Is(err, types.ErrInvalidMode),
		errors.Is(err, types.ErrInvalidLimit):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// splitPath extracts the entity id and trailing action from a path like
// /api/recruitments/{id}/join
func splitPath(path, prefix string) (id, action string) {
	trimmed := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(trimmed, "/", 2)
	id = parts[0]
	if len(parts) == 2 {
		action = strings.TrimSuffix(parts[1], "/")
	}
	return id, action
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
