// Package docs registers the OpenAPI document served at /swagger.
// Regenerate with: swag init -g cmd/venue/main.go -o docs
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
        "/contact": {
            "post": {
                "description": "Validates the inquiry, stores a JSON backup, and emails the venue operator,\nfalling over between mail strategies. When every strategy fails the\nresponse is 500 but the inquiry is still saved for follow-up.\nSupports idempotency via the Idempotency-Key header (same key → same result).",
                "consumes": [
                    "application/json"
                ],
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Contact"
                ],
                "summary": "Submit a contact / booking inquiry",
                "operationId": "submitContact",
                "parameters": [
                    {
                        "type": "string",
                        "example": "7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab",
                        "description": "Idempotency key for safe retries (UUID recommended)",
                        "name": "Idempotency-Key",
                        "in": "header"
                    },
                    {
                        "description": "Inquiry",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/handlers.ContactRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Notification delivered",
                        "schema": {
                            "$ref": "#/definitions/handlers.ContactResponse"
                        }
                    },
                    "400": {
                        "description": "Missing required fields or invalid body",
                        "schema": {
                            "$ref": "#/definitions/handlers.ContactResponse"
                        }
                    },
                    "405": {
                        "description": "Method not allowed",
                        "schema": {
                            "$ref": "#/definitions/handlers.ContactResponse"
                        }
                    },
                    "409": {
                        "description": "Same Idempotency-Key still in progress",
                        "schema": {
                            "$ref": "#/definitions/handlers.ContactResponse"
                        }
                    },
                    "413": {
                        "description": "Body too large",
                        "schema": {
                            "$ref": "#/definitions/handlers.ContactResponse"
                        }
                    },
                    "429": {
                        "description": "Rate limited",
                        "schema": {
                            "$ref": "#/definitions/handlers.ContactResponse"
                        }
                    },
                    "500": {
                        "description": "Saved, but notification failed",
                        "schema": {
                            "$ref": "#/definitions/handlers.ContactResponse"
                        }
                    }
                }
            }
        }
    },
    "definitions": {
        "handlers.ContactRequest": {
            "type": "object",
            "properties": {
                "bookingDetails": {
                    "type": "string",
                    "example": "Birthday dinner for 10"
                },
                "email": {
                    "type": "string",
                    "example": "jane@example.com"
                },
                "fullName": {
                    "type": "string",
                    "example": "Jane Doe"
                },
                "guestCount": {
                    "type": "string",
                    "example": "10"
                },
                "phone": {
                    "type": "string",
                    "example": "555-1234"
                },
                "preferredDate": {
                    "type": "string",
                    "example": "2025-06-01"
                },
                "showingTime": {
                    "type": "string",
                    "example": "evening"
                }
            }
        },
        "handlers.ContactResponse": {
            "type": "object",
            "properties": {
                "message": {
                    "type": "string",
                    "example": "Thank you for your inquiry! We will get back to you soon."
                },
                "success": {
                    "type": "boolean",
                    "example": true
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "Venue Backend API",
	Description:      "Contact and booking inquiry intake for the venue website.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
