package api

import (
	"net/http"
)

type route struct {
	method  string
	path    string
	id      string
	summary string
	scope   string
	codes   map[string]string
}

var routes = []route{
	{"get", "/workflow", "listWorkflows", "List workflow spaces", "workflow:ro",
		map[string]string{"200": "Workflow list"}},
	{"post", "/workflow", "createWorkflow", "Upload a workflow definition into a new space", "workflow:rw",
		map[string]string{"201": "Workflow created", "400": "Invalid id", "409": "Workflow id taken", "422": "Missing nextflow_script"}},
	{"get", "/workflow/{workflowID}", "getWorkflow", "Get a workflow descriptor or its definition file", "workflow:ro",
		map[string]string{"200": "Workflow", "404": "Workflow not found", "415": "Unsupported Accept header"}},
	{"put", "/workflow/{workflowID}", "updateWorkflow", "Replace a workflow definition", "workflow:rw",
		map[string]string{"200": "Workflow updated", "422": "Missing nextflow_script"}},
	{"post", "/workflow/{workflowID}", "startJob", "Run a workflow against a workspace", "jobs:rw",
		map[string]string{"201": "Job started", "404": "Workflow or workspace not found", "503": "Engine unavailable"}},
	{"get", "/workflow/{workflowID}/jobs", "listJobs", "List jobs of a workflow", "jobs:ro",
		map[string]string{"200": "Job list", "404": "Workflow not found"}},
	{"get", "/workflow/{workflowID}/{jobID}", "getJob", "Poll a job", "jobs:ro",
		map[string]string{"200": "Job", "404": "Job not found"}},
	{"get", "/events", "streamEvents", "Stream workflow and job lifecycle events (text/event-stream)", "jobs:ro",
		map[string]string{"200": "Event stream"}},
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the protected routes.
func buildOpenAPIDoc(baseURL string) map[string]any {
	paths := map[string]any{}

	for _, rt := range routes {
		responses := map[string]any{
			"401": map[string]any{"description": "Missing or invalid bearer token"},
			"403": map[string]any{"description": "Insufficient scope"},
		}
		for code, desc := range rt.codes {
			responses[code] = map[string]any{"description": desc}
		}

		op := map[string]any{
			"operationId": rt.id,
			"summary":     rt.summary,
			"responses":   responses,
			"security":    []any{map[string]any{"BearerAuth": []string{rt.scope}}},
		}
		switch rt.id {
		case "createWorkflow", "updateWorkflow":
			op["requestBody"] = map[string]any{
				"required": true,
				"content": map[string]any{
					"multipart/form-data": map[string]any{
						"schema": map[string]any{
							"type":     "object",
							"required": []string{uploadField},
							"properties": map[string]any{
								uploadField: map[string]any{"type": "string", "format": "binary"},
							},
						},
					},
				},
			}
		case "startJob":
			op["requestBody"] = map[string]any{
				"required": true,
				"content": map[string]any{
					mediaTypeJSON: map[string]any{
						"schema": map[string]any{
							"type":       "object",
							"required":   []string{"workspace_id"},
							"properties": map[string]any{"workspace_id": map[string]any{"type": "string"}},
						},
					},
				},
			}
		}

		item, _ := paths[rt.path].(map[string]any)
		if item == nil {
			item = map[string]any{}
			paths[rt.path] = item
		}
		item[rt.method] = op
	}

	doc := map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "nfgate",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
	if baseURL != "" {
		doc["servers"] = []any{map[string]any{"url": baseURL}}
	}
	return doc
}

// handleOpenAPI handles GET /openapi.json (no auth).
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.config.BaseURL))
}
