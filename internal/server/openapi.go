package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"
	"github.com/swaggest/swgui/v5emb"

	"github.com/playperu/snapbooth/internal/booth"
	"github.com/playperu/snapbooth/internal/runtime"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

type operation struct {
	method, path, summary, description string
	req                                any
	resp                               []response
}

type response struct {
	status      int
	body        any
	contentType string
}

func ok(body any) response        { return response{status: http.StatusOK, body: body} }
func created(body any) response   { return response{status: http.StatusCreated, body: body} }
func failure(status int) response { return response{status: status, body: ErrorResponse{}} }

// Path and query parameters for documentation only.
type (
	clientParams struct {
		Client string `path:"client"`
	}
	experienceParams struct {
		Client string `path:"client"`
		ID     string `path:"id"`
	}
	startSessionParams struct {
		clientParams
		StartSessionRequest
	}
	stepParams struct {
		Client string `path:"client"`
		StepID string `path:"stepId"`
	}
	goToParams struct {
		clientParams
		GoToRequest
	}
	importParams struct {
		clientParams
		booth.Experience
	}
	streamParams struct {
		Client string `path:"client"`
		Token  string `query:"token"`
	}
)

const (
	guestAuth = " Requires the session token as a Bearer header."
	adminAuth = " Requires admin_session cookie."
)

func apiOperations() []operation {
	return []operation{
		{http.MethodGet, "/healthz", "Health check", "Returns the status of each backend dependency.", nil,
			[]response{ok(HealthResponse{}), {status: http.StatusServiceUnavailable, body: HealthResponse{}}}},

		{http.MethodGet, "/api/{client}/experiences/{id}", "Get experience",
			"Returns a published experience definition.", experienceParams{},
			[]response{ok(booth.Experience{}), failure(http.StatusNotFound)}},
		{http.MethodPost, "/api/{client}/sessions", "Start session",
			"Starts a guest session on a published experience and returns its token and first view.", startSessionParams{},
			[]response{created(SessionResponse{}), failure(http.StatusBadRequest), failure(http.StatusNotFound)}},
		{http.MethodGet, "/api/{client}/session", "Get session view",
			"Returns the current runtime view." + guestAuth, clientParams{},
			[]response{ok(runtime.View{}), failure(http.StatusUnauthorized), failure(http.StatusGone)}},
		{http.MethodPut, "/api/{client}/session/responses/{stepId}", "Answer step",
			"Validates and records the answer for a step. Auto-advancing steps move on." + guestAuth, stepParams{},
			[]response{ok(runtime.View{}), {status: http.StatusUnprocessableEntity, body: ValidationErrorResponse{}}, failure(http.StatusNotFound)}},
		{http.MethodPost, "/api/{client}/session/next", "Next step",
			"Advances the guest. From the last question this starts completion." + guestAuth, clientParams{},
			[]response{ok(runtime.View{}), failure(http.StatusUnauthorized)}},
		{http.MethodPost, "/api/{client}/session/previous", "Previous step",
			"Moves back one visible step when allowed." + guestAuth, clientParams{},
			[]response{ok(runtime.View{}), failure(http.StatusUnauthorized)}},
		{http.MethodPost, "/api/{client}/session/back", "Top bar back",
			"Steps back, or asks for exit confirmation on the first step and after completion." + guestAuth, clientParams{},
			[]response{ok(BackResponse{}), failure(http.StatusUnauthorized)}},
		{http.MethodPost, "/api/{client}/session/exit", "Exit session",
			"Confirms leaving the run. Unfinished sessions are marked abandoned." + guestAuth, clientParams{},
			[]response{ok(ExitResponse{}), failure(http.StatusUnauthorized)}},
		{http.MethodPost, "/api/{client}/session/retry", "Retry completion",
			"Re-runs completion after a failure. Sub-steps that already succeeded are skipped." + guestAuth, clientParams{},
			[]response{ok(runtime.View{}), failure(http.StatusConflict)}},
		{http.MethodPost, "/api/{client}/session/goto", "Jump to step",
			"Jumps to a step index. Preview sessions only." + guestAuth, goToParams{},
			[]response{ok(runtime.View{}), failure(http.StatusBadRequest), failure(http.StatusForbidden)}},
		{http.MethodGet, "/api/{client}/session/events", "Session event stream",
			"Server-Sent Events stream of runtime views. Pass the token as a query parameter.", streamParams{},
			[]response{{status: http.StatusOK, contentType: "text/event-stream"}}},
		{http.MethodGet, "/api/{client}/session/ws", "Session WebSocket",
			"Upgrades to a WebSocket that pushes runtime views. Pass the token as a query parameter.", streamParams{},
			[]response{{status: http.StatusSwitchingProtocols, contentType: "text/plain"}}},

		{http.MethodPost, "/api/admin/login", "Admin login",
			"Authenticate with username and password. Sets admin_session cookie.", AdminLoginRequest{},
			[]response{ok(AdminMeResponse{}), failure(http.StatusUnauthorized)}},
		{http.MethodPost, "/api/admin/logout", "Admin logout", "Clears admin session and cookie.", nil,
			[]response{{status: http.StatusOK}}},
		{http.MethodGet, "/api/admin/me", "Current admin", "Returns the authenticated admin." + adminAuth, nil,
			[]response{ok(AdminMeResponse{}), failure(http.StatusUnauthorized)}},
		{http.MethodGet, "/api/admin/clients", "List clients", "Returns every client." + adminAuth, nil,
			[]response{ok([]ClientInfo{}), failure(http.StatusUnauthorized)}},
		{http.MethodPost, "/api/admin/clients", "Create client",
			"Registers a client and creates its database." + adminAuth, AdminClientRequest{},
			[]response{created(ClientInfo{}), failure(http.StatusBadRequest), failure(http.StatusConflict)}},
		{http.MethodGet, "/api/admin/clients/{client}/experiences", "List experiences",
			"Returns the client's experiences with step counts." + adminAuth, clientParams{},
			[]response{ok([]ExperienceSummary{}), failure(http.StatusUnauthorized)}},
		{http.MethodPost, "/api/admin/clients/{client}/experiences", "Import experience",
			"Validates a YAML or JSON definition and stores it." + adminAuth, importParams{},
			[]response{created(ImportResponse{}), {status: http.StatusUnprocessableEntity, body: ImportResponse{}}}},
		{http.MethodGet, "/api/admin/clients/{client}/experiences/{id}", "Get experience (admin)",
			"Returns any experience, drafts included." + adminAuth, experienceParams{},
			[]response{ok(booth.Experience{}), failure(http.StatusNotFound)}},
		{http.MethodDelete, "/api/admin/clients/{client}/experiences/{id}", "Delete experience",
			"Deletes an experience. Blocked while sessions are active." + adminAuth, experienceParams{},
			[]response{{status: http.StatusNoContent}, failure(http.StatusConflict), failure(http.StatusNotFound)}},
		{http.MethodPost, "/api/admin/clients/{client}/experiences/{id}/preview", "Preview experience",
			"Starts a preview session that may jump between steps." + adminAuth, experienceParams{},
			[]response{created(SessionResponse{}), failure(http.StatusNotFound)}},
	}
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "Snapbooth API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Backend API for Snapbooth guest experiences.")

	for _, op := range apiOperations() {
		oc, err := r.NewOperationContext(op.method, op.path)
		if err != nil {
			continue
		}
		oc.SetSummary(op.summary)
		oc.SetDescription(op.description)
		if op.req != nil {
			oc.AddReqStructure(op.req)
		}
		for _, resp := range op.resp {
			opts := []openapi.ContentOption{openapi.WithHTTPStatus(resp.status)}
			if resp.contentType != "" {
				opts = append(opts, openapi.WithContentType(resp.contentType))
			}
			oc.AddRespStructure(resp.body, opts...)
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

func handleSwaggerUI() http.HandlerFunc {
	return v5emb.New("Snapbooth API", "/openapi.json", "/docs").ServeHTTP
}
