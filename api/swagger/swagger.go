package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "P-BIT Classroom API",
        "description": "Classroom backend for P-BIT BLE sensor devices",
        "version": "0.1.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Accounts and tokens"},
        {"name": "Classes", "description": "Classroom lifecycle and membership"},
        {"name": "Devices", "description": "Device registration and bookmarks"},
        {"name": "Classroom devices", "description": "Device assignment and visibility"},
        {"name": "Sensor data", "description": "Reading ingest and queries"},
        {"name": "Groups", "description": "Classroom groups"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"}
                }
            }
        },
        "/user/register": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Register a teacher or student account",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Identifier already taken"}
                }
            }
        },
        "/user/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate and receive an access token",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/class/create": {
            "post": {
                "tags": ["Classes"],
                "summary": "Create a classroom with a generated passphrase",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/class/join": {
            "post": {
                "tags": ["Classes"],
                "summary": "Join a classroom by passphrase",
                "responses": {
                    "200": {"description": "Joined"},
                    "404": {"description": "Unknown passphrase"},
                    "409": {"description": "Already a member"}
                }
            }
        },
        "/class/join-anonymous": {
            "post": {
                "tags": ["Classes"],
                "summary": "Join with a first name and PIN",
                "responses": {
                    "200": {"description": "Joined or re-entered"},
                    "401": {"description": "Wrong PIN"},
                    "409": {"description": "Name already taken"}
                }
            }
        },
        "/classroom-device/record-ble-batch": {
            "post": {
                "tags": ["Sensor data"],
                "summary": "Record a batch of sensor readings",
                "responses": {
                    "200": {"description": "Batch recorded", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Missing credentials"}
                }
            }
        },
        "/device/metrics": {
            "get": {
                "tags": ["Devices"],
                "summary": "Aggregate metrics per sensor column",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "message": {"type": "string"},
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
