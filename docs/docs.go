// Package docs is generated by swaggo/swag from the handler annotations.
// Regenerate with: swag init -g cmd/server/main.go -o docs
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
        "/chat/": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["chat"],
                "summary": "List chats",
                "parameters": [
                    {"type": "boolean", "description": "Include archived chats", "name": "includeArchived", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/chat/check": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["chat"],
                "summary": "Check for an existing chat",
                "parameters": [
                    {"type": "integer", "description": "Product ID", "name": "productId", "in": "query", "required": true},
                    {"type": "integer", "description": "Seller ID", "name": "sellerId", "in": "query", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/service.CheckResult"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/chat/init": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["chat"],
                "summary": "Start a chat",
                "parameters": [
                    {"description": "Chat to open", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/server.InitChatRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/chat/{chatId}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["chat"],
                "summary": "Chat summary",
                "parameters": [
                    {"type": "integer", "description": "Chat ID", "name": "chatId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/chat/{chatId}/archive": {
            "patch": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["chat"],
                "summary": "Archive a chat",
                "parameters": [
                    {"type": "integer", "description": "Chat ID", "name": "chatId", "in": "path", "required": true},
                    {"description": "Archive flag", "name": "request", "in": "body", "schema": {"$ref": "#/definitions/server.ArchiveChatRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/chat/{chatId}/messages": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["chat"],
                "summary": "List messages",
                "parameters": [
                    {"type": "integer", "description": "Chat ID", "name": "chatId", "in": "path", "required": true},
                    {"type": "integer", "description": "Page size, at most 50", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["chat"],
                "summary": "Send a message",
                "parameters": [
                    {"type": "integer", "description": "Chat ID", "name": "chatId", "in": "path", "required": true},
                    {"description": "Message", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/server.SendMessageRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/chat/{chatId}/read": {
            "patch": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["chat"],
                "summary": "Mark a chat read",
                "parameters": [
                    {"type": "integer", "description": "Chat ID", "name": "chatId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/features": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["features"],
                "summary": "Feature flags",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/ws/chat": {
            "get": {
                "description": "Upgrades to a WebSocket. Pass the credential as the token query parameter or a header.",
                "tags": ["chat"],
                "summary": "Realtime chat",
                "parameters": [
                    {"type": "string", "description": "Access token", "name": "token", "in": "query"}
                ],
                "responses": {
                    "101": {"description": "Switching Protocols"},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "426": {"description": "Upgrade Required", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "models.ErrorResponse": {
            "type": "object",
            "properties": {
                "chatId": {"type": "integer"},
                "code": {"type": "string"},
                "details": {"type": "string"},
                "error": {"type": "string"}
            }
        },
        "server.ArchiveChatRequest": {
            "type": "object",
            "properties": {
                "archived": {"type": "boolean"}
            }
        },
        "server.InitChatRequest": {
            "type": "object",
            "required": ["productId", "sellerId", "initialMessage"],
            "properties": {
                "initialMessage": {"type": "string"},
                "productId": {"type": "integer"},
                "sellerId": {"type": "integer"}
            }
        },
        "server.SendMessageRequest": {
            "type": "object",
            "required": ["content"],
            "properties": {
                "content": {"type": "string"}
            }
        },
        "service.CheckResult": {
            "type": "object",
            "properties": {
                "chatId": {"type": "integer"},
                "exists": {"type": "boolean"},
                "unreadCount": {"type": "integer"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:4500",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Marketplace Chat API",
	Description:      "Buyer and seller conversations about marketplace products, over REST and WebSocket.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
