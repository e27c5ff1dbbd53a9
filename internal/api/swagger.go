package api

// swaggerDoc is a minimal OpenAPI 2.0 document describing this
// service's HTTP surface, served at /v1/docs/swagger.json for the
// /docs Swagger UI.
const swaggerDoc = `{
  "swagger": "2.0",
  "info": {
    "title": "Knowledge graph sync engine API",
    "version": "1.0"
  },
  "basePath": "/v1",
  "paths": {
    "/operations": {
      "post": {
        "summary": "Submit a sync operation",
        "responses": {"202": {"description": "accepted"}}
      },
      "get": {
        "summary": "List active operations",
        "responses": {"200": {"description": "ok"}}
      }
    },
    "/operations/{id}": {
      "get": {
        "summary": "Get operation status",
        "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
        "responses": {"200": {"description": "ok"}, "404": {"description": "not found"}}
      }
    },
    "/operations/{id}/cancel": {
      "post": {
        "summary": "Cancel a running operation",
        "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
        "responses": {"204": {"description": "cancelled"}, "404": {"description": "not cancellable"}}
      }
    },
    "/operations/{id}/tuning": {
      "patch": {
        "summary": "Update an operation's runtime tuning parameters",
        "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
        "responses": {"204": {"description": "no content"}}
      }
    },
    "/sync/pause": {
      "post": {"summary": "Pause the sync coordinator", "responses": {"204": {"description": "no content"}}}
    },
    "/sync/resume": {
      "post": {"summary": "Resume the sync coordinator", "responses": {"204": {"description": "no content"}}}
    },
    "/sync/stats": {
      "get": {"summary": "Get sync statistics", "responses": {"200": {"description": "ok"}}}
    },
    "/scm/commits": {
      "post": {"summary": "Create a commit/PR", "responses": {"201": {"description": "created"}}},
      "get": {"summary": "List commit records", "responses": {"200": {"description": "ok"}}}
    },
    "/scm/commits/{hash}": {
      "get": {
        "summary": "Get a commit record",
        "parameters": [{"name": "hash", "in": "path", "required": true, "type": "string"}],
        "responses": {"200": {"description": "ok"}, "404": {"description": "not found"}}
      }
    },
    "/sessions/{id}/stream": {
      "get": {
        "summary": "Websocket stream of session events",
        "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
        "responses": {"101": {"description": "switching protocols"}}
      }
    }
  }
}`
