// Package docs holds the OpenAPI description served at /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Liveness and artifact versions",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.HealthResponse"}}
                }
            }
        },
        "/model": {
            "get": {
                "produces": ["application/json"],
                "tags": ["model"],
                "summary": "Coefficient table, lexicon version and context defaults",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}}
                }
            }
        },
        "/documents/score": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["documents"],
                "summary": "Score document texts and aggregate X1-X10",
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.ScoreRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "422": {"description": "Neither planning statement nor committee report present", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/documents/upload": {
            "post": {
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["documents"],
                "summary": "Extract and score uploaded documents",
                "parameters": [
                    {"type": "file", "name": "ps", "in": "formData", "description": "Planning statement"},
                    {"type": "file", "name": "cr", "in": "formData", "description": "Committee report"},
                    {"type": "file", "name": "ap", "in": "formData", "description": "Appeal decision"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "413": {"description": "Request Entity Too Large", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "422": {"description": "Neither planning statement nor committee report present", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests"}
                }
            }
        },
        "/context": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["context"],
                "summary": "Validate context inputs and build X11-X16",
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/contextvars.Inputs"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/predict": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["model"],
                "summary": "Predict approval probability from a variable map",
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.PredictRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/analyze": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["model"],
                "summary": "Score documents, build context and predict in one call",
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.AnalyzeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "422": {"description": "Neither planning statement nor committee report present", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "504": {"description": "Gateway Timeout", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/repository": {
            "get": {
                "produces": ["application/json"],
                "tags": ["repository"],
                "summary": "List scored documents",
                "parameters": [
                    {"type": "string", "name": "batch_id", "in": "query", "description": "Only rows written by this batch"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}}
                }
            },
            "delete": {
                "produces": ["application/json"],
                "tags": ["repository"],
                "summary": "Clear the repository",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "401": {"description": "Unauthorized"}
                }
            }
        },
        "/repository/{case_id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["repository"],
                "summary": "Get one scored document",
                "parameters": [
                    {"type": "string", "name": "case_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/repository/batch": {
            "post": {
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["repository"],
                "summary": "Score many documents into the repository",
                "parameters": [
                    {"type": "file", "name": "files", "in": "formData", "required": true, "description": "Documents; the file name is the case id"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests"}
                }
            }
        },
        "/metrics": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Operational counters",
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/cache/stats": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Response cache statistics",
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/ratelimit": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Rate limit status for the calling IP",
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/ratelimit/{ip}": {
            "delete": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Reset the rate limit counters of one IP",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"type": "string", "name": "ip", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "401": {"description": "Unauthorized"}
                }
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header",
            "description": "Bearer token issued by plancheck token"
        }
    },
    "definitions": {
        "contextvars.Inputs": {
            "type": "object",
            "properties": {
                "housing_pressure": {"type": "number", "minimum": 0, "maximum": 3, "example": 1.5},
                "tb_status": {"type": "integer", "enum": [0, 1, 2], "example": 1},
                "plan_age": {"type": "integer", "enum": [0, 1, 2], "example": 1},
                "committee_attitude": {"type": "number", "minimum": 0, "maximum": 3, "example": 1.5},
                "gb_flag": {"type": "integer", "enum": [0, 1], "example": 0},
                "floodzone_level": {"type": "integer", "enum": [0, 1, 2, 3], "example": 0}
            }
        },
        "types.ScoreRequest": {
            "type": "object",
            "properties": {
                "ps_text": {"type": "string"},
                "cr_text": {"type": "string"},
                "ap_text": {"type": "string"}
            }
        },
        "types.AnalyzeRequest": {
            "type": "object",
            "properties": {
                "ps_text": {"type": "string"},
                "cr_text": {"type": "string"},
                "ap_text": {"type": "string"},
                "context": {"$ref": "#/definitions/contextvars.Inputs"}
            }
        },
        "types.PredictRequest": {
            "type": "object",
            "required": ["variables"],
            "properties": {
                "variables": {"type": "object", "additionalProperties": {"type": "number"}}
            }
        },
        "types.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "timestamp": {"type": "string"},
                "model_version": {"type": "string"},
                "lexicon_version": {"type": "string"},
                "uptime": {"type": "string"},
                "version": {"type": "string"}
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "message": {"type": "string"},
                "category": {"type": "string"},
                "http_status": {"type": "integer"},
                "timestamp": {"type": "string"},
                "request_id": {"type": "string"},
                "details": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Plan Checker API",
	Description:      "Scores planning documents against a rulebook and predicts the probability of approval.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
