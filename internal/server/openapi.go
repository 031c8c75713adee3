package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/playperu/livequiz/internal/handler/health"
	"github.com/playperu/livequiz/internal/session"
)

type operation struct {
	method, path, summary, description string
	params                             any
	req                                any
	resp                               any
	status                             int
	errors                             []int
	contentType                        string
}

// Path and query parameters, declared for the reflector.
type (
	codeParams struct {
		Code string `path:"code"`
	}
	eventParams struct {
		EventID string `path:"eventID"`
	}
	eventFeedParams struct {
		EventID   string `path:"eventID"`
		SegmentID string `query:"segment" description:"Narrow the feed to one segment."`
		Token     string `query:"token" description:"Bearer token, for clients that cannot set headers."`
	}
	segmentParams struct {
		SegmentID string `path:"segmentID"`
	}
	actionParams struct {
		SegmentID string `path:"segmentID"`
		Action    string `path:"action"`
	}
	questionParams struct {
		SegmentID  string `path:"segmentID"`
		QuestionID string `path:"questionID"`
	}
)

var operations = []operation{
	{method: http.MethodGet, path: "/healthz", summary: "Health check",
		description: "Reports the status of storage and the optional Redis and NATS connections.",
		resp:        health.Response{}, status: http.StatusOK},

	{method: http.MethodGet, path: "/api/codes/{code}", summary: "Look up join code", params: codeParams{},
		description: "Resolves a join code to an active event before joining.",
		resp:        CodeLookupResponse{}, status: http.StatusOK, errors: []int{http.StatusNotFound}},
	{method: http.MethodPost, path: "/api/join", summary: "Join event",
		description: "Joins an event by code. A device that already joined rejoins as the same participant. Returns a participant token.",
		req:         JoinRequest{}, resp: JoinResponse{}, status: http.StatusOK,
		errors: []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict}},
	{method: http.MethodPost, path: "/api/answers", summary: "Submit answer",
		description: "Records the participant's first answer to the open question. Requires a participant token.",
		req:         AnswerRequest{}, resp: session.AnswerReceipt{}, status: http.StatusOK,
		errors: []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict}},

	{method: http.MethodPost, path: "/api/events", summary: "Create event",
		description: "Creates an event with a fresh join code. Requires a host token.",
		req:         CreateEventRequest{}, resp: session.EventView{}, status: http.StatusCreated,
		errors: []int{http.StatusUnauthorized, http.StatusForbidden}},
	{method: http.MethodGet, path: "/api/events/{eventID}", summary: "Get event", params: eventParams{},
		resp: session.EventView{}, status: http.StatusOK, errors: []int{http.StatusForbidden, http.StatusNotFound}},
	{method: http.MethodPost, path: "/api/events/{eventID}/lock", summary: "Lock event", params: eventParams{},
		description: "Stops new devices from joining. Known devices can still rejoin.",
		resp:        session.EventView{}, status: http.StatusOK, errors: []int{http.StatusForbidden, http.StatusNotFound}},
	{method: http.MethodPost, path: "/api/events/{eventID}/unlock", summary: "Unlock event", params: eventParams{},
		resp: session.EventView{}, status: http.StatusOK, errors: []int{http.StatusForbidden, http.StatusNotFound}},
	{method: http.MethodPost, path: "/api/events/{eventID}/end", summary: "End event", params: eventParams{},
		description: "Completes running segments, releases device locks and retires the join code.",
		resp:        session.EventView{}, status: http.StatusOK, errors: []int{http.StatusForbidden, http.StatusNotFound}},
	{method: http.MethodGet, path: "/api/events/{eventID}/state", summary: "Get snapshot", params: eventFeedParams{},
		description: "Returns the full state a realtime connection starts with. Optional segment query parameter.",
		resp:        session.Snapshot{}, status: http.StatusOK, errors: []int{http.StatusForbidden, http.StatusNotFound}},
	{method: http.MethodGet, path: "/api/events/{eventID}/leaderboard", summary: "Event leaderboard", params: eventParams{},
		resp: []session.Standing{}, status: http.StatusOK, errors: []int{http.StatusForbidden, http.StatusNotFound}},
	{method: http.MethodGet, path: "/api/events/{eventID}/stream", summary: "Realtime feed (SSE)", params: eventFeedParams{},
		description: "Server-Sent Events feed. The first message is a full-state-resync snapshot. Pass the token as a query parameter.",
		status:      http.StatusOK, contentType: "text/event-stream", errors: []int{http.StatusForbidden}},
	{method: http.MethodGet, path: "/api/events/{eventID}/ws", summary: "Realtime feed (WebSocket)", params: eventFeedParams{},
		description: "WebSocket feed with the same messages as the SSE stream. Participants may send submit-answer intents.",
		status:      http.StatusSwitchingProtocols, contentType: "text/plain", errors: []int{http.StatusForbidden}},

	{method: http.MethodPost, path: "/api/events/{eventID}/segments", summary: "Create segment", params: eventParams{},
		req: CreateSegmentRequest{}, resp: session.SegmentView{}, status: http.StatusCreated,
		errors: []int{http.StatusForbidden, http.StatusNotFound}},
	{method: http.MethodPatch, path: "/api/segments/{segmentID}", summary: "Patch segment", params: segmentParams{},
		description: "Moves the segment to a target status, or clears a pending resume with previousStatus: null.",
		req:         PatchSegmentRequest{}, resp: session.SegmentView{}, status: http.StatusOK,
		errors: []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict, http.StatusTooManyRequests}},
	{method: http.MethodPost, path: "/api/segments/{segmentID}/questions", summary: "Add question", params: segmentParams{},
		req: CreateQuestionRequest{}, resp: QuestionResponse{}, status: http.StatusCreated,
		errors: []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict}},
	{method: http.MethodPost, path: "/api/segments/{segmentID}/actions/{action}", summary: "Apply action", params: actionParams{},
		description: "Runs a status or phase action: start, pause, resume-recording, stop, content-ready, start-quiz, reveal, leaderboard, next, end-quiz, end.",
		resp:        session.SegmentView{}, status: http.StatusOK,
		errors: []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict}},
	{method: http.MethodPost, path: "/api/segments/{segmentID}/resume", summary: "Resume segment", params: segmentParams{},
		description: "Restores an accidentally completed segment. Recovery actions are spaced by a cooldown.",
		resp:        session.ResumeResult{}, status: http.StatusOK,
		errors: []int{http.StatusForbidden, http.StatusConflict, http.StatusTooManyRequests}},
	{method: http.MethodPost, path: "/api/segments/{segmentID}/presenter", summary: "Assign presenter", params: segmentParams{},
		req: PresenterRequest{}, resp: session.SegmentView{}, status: http.StatusOK,
		errors: []int{http.StatusForbidden, http.StatusNotFound}},
	{method: http.MethodPost, path: "/api/segments/{segmentID}/presenter/pass", summary: "Pass presenter role", params: segmentParams{},
		req: PresenterRequest{}, resp: session.SegmentView{}, status: http.StatusOK,
		errors: []int{http.StatusForbidden, http.StatusUnprocessableEntity}},
	{method: http.MethodPost, path: "/api/segments/{segmentID}/presenter/emergency", summary: "Emergency reassign", params: segmentParams{},
		req: PresenterRequest{}, resp: session.SegmentView{}, status: http.StatusOK,
		errors: []int{http.StatusForbidden, http.StatusConflict, http.StatusUnprocessableEntity}},
	{method: http.MethodGet, path: "/api/segments/{segmentID}/presenter/candidates", summary: "Emergency candidates", params: segmentParams{},
		resp: []session.ParticipantView{}, status: http.StatusOK, errors: []int{http.StatusForbidden}},
	{method: http.MethodGet, path: "/api/segments/{segmentID}/leaderboard", summary: "Segment leaderboard", params: segmentParams{},
		resp: []session.Standing{}, status: http.StatusOK, errors: []int{http.StatusNotFound}},
	{method: http.MethodGet, path: "/api/segments/{segmentID}/questions/{questionID}/distribution", summary: "Answer distribution", params: questionParams{},
		resp: []session.OptionCount{}, status: http.StatusOK, errors: []int{http.StatusForbidden, http.StatusNotFound}},
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "Live Quiz API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Live quiz session coordination: joining, segments, answers and realtime updates.")

	for _, op := range operations {
		oc, err := r.NewOperationContext(op.method, op.path)
		if err != nil {
			continue
		}
		oc.SetSummary(op.summary)
		if op.description != "" {
			oc.SetDescription(op.description)
		}
		if op.params != nil {
			oc.AddReqStructure(op.params)
		}
		if op.req != nil {
			oc.AddReqStructure(op.req)
		}
		if op.contentType != "" {
			oc.AddRespStructure(nil, openapi.WithHTTPStatus(op.status), openapi.WithContentType(op.contentType))
		} else {
			oc.AddRespStructure(op.resp, openapi.WithHTTPStatus(op.status))
		}
		for _, status := range op.errors {
			oc.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(status))
		}
		_ = r.AddOperation(oc)
	}
	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
